// Package httpapi exposes the register, login, refresh and federated login
// entry points over HTTP with fiber.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	auth "github.com/goliatone/go-auth-issuer"
	"github.com/goliatone/go-auth-issuer/federation"
)

// AccountService is the password based entry points.
type AccountService interface {
	Register(ctx context.Context, msg auth.RegisterUserMessage) (*auth.AuthResult, error)
	Login(ctx context.Context, login, password string) (*auth.AuthResult, error)
	Refresh(ctx context.Context, raw string) (*auth.AuthResult, error)
}

// FederatedLogin completes a provider callback.
type FederatedLogin interface {
	Reconcile(ctx context.Context, provider federation.IdentityProvider, params url.Values) (*federation.Result, error)
}

// Authorizer is implemented by providers that can start a login.
type Authorizer interface {
	AuthCodeURL() (string, error)
}

// Routes holds the paths, relative to the base path.
type Routes struct {
	Register          string
	Login             string
	Refresh           string
	Session           string
	FederatedStart    string
	FederatedCallback string
}

func defaultRoutes() Routes {
	return Routes{
		Register:          "/register",
		Login:             "/login",
		Refresh:           "/refresh",
		Session:           "/session",
		FederatedStart:    "/federated/:provider/start",
		FederatedCallback: "/federated/:provider/callback",
	}
}

// Controller serves the auth endpoints.
type Controller struct {
	accounts   AccountService
	federated  FederatedLogin
	providers  *federation.Registry
	parser     TokenParser
	logger     auth.Logger
	routes     Routes
	maxRole    auth.UserRole
	useHashid  bool
	successURL string
	errorURL   string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger auth.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFederation enables the federated login routes.
func WithFederation(login FederatedLogin, providers *federation.Registry) Option {
	return func(c *Controller) {
		c.federated = login
		c.providers = providers
	}
}

// WithTokenParser enables the session route.
func WithTokenParser(parser TokenParser) Option {
	return func(c *Controller) {
		c.parser = parser
	}
}

// WithRedirects sets where federated callbacks land. The success URL gets the
// token in its fragment; the error URL gets an error query parameter. With no
// URLs the callback answers with JSON.
func WithRedirects(successURL, errorURL string) Option {
	return func(c *Controller) {
		c.successURL = successURL
		c.errorURL = errorURL
	}
}

// WithSelfRegisterMaxRole caps the role a registration may request.
func WithSelfRegisterMaxRole(role auth.UserRole) Option {
	return func(c *Controller) {
		if role != "" {
			c.maxRole = role
		}
	}
}

// WithHashidUserIDs derives new user ids from the email address.
func WithHashidUserIDs(enabled bool) Option {
	return func(c *Controller) {
		c.useHashid = enabled
	}
}

// WithRoutes overrides the route paths.
func WithRoutes(routes Routes) Option {
	return func(c *Controller) {
		c.routes = routes
	}
}

// NewController creates the auth controller.
func NewController(accounts AccountService, opts ...Option) *Controller {
	c := &Controller{
		accounts: accounts,
		logger:   auth.DefaultLogger(),
		routes:   defaultRoutes(),
		maxRole:  auth.DefaultRole,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Mount registers the routes on r.
func (a *Controller) Mount(r fiber.Router) {
	r.Post(a.routes.Register, a.RegisterPost)
	r.Post(a.routes.Login, a.LoginPost)
	r.Post(a.routes.Refresh, a.RefreshPost)
	if a.parser != nil {
		r.Get(a.routes.Session, RequireToken(a.parser), a.Session)
	}
	if a.federated != nil && a.providers != nil {
		r.Get(a.routes.FederatedStart, a.FederatedStart)
		r.Get(a.routes.FederatedCallback, a.FederatedCallback)
	}
}

// MountMetrics serves h at path.
func MountMetrics(r fiber.Router, path string, h http.Handler) {
	r.Get(path, adaptor.HTTPHandler(h))
}

// NewApp creates a fiber app using the API error handler.
func NewApp(logger auth.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "go-auth-issuer",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
	})
}

// AuthResponse is returned by every successful entry point.
type AuthResponse struct {
	User  *auth.User        `json:"user"`
	Token *auth.TokenResult `json:"token"`
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(3, 200)),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegisterRequest payload
type RegisterRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	ConfirmPassword  string `json:"confirm_password"`
	Phone            string `json:"phone_number"`
	Role             string `json:"role"`
	IsOrganization   bool   `json:"is_organization"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	OrganizationName string `json:"organization_name"`
}

// Validate checks the fields that do not need the account store.
func (r RegisterRequest) Validate(maxRole auth.UserRole) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.ConfirmPassword, validation.When(r.ConfirmPassword != "", validation.In(r.Password).Error("must match password"))),
		validation.Field(&r.Role, validation.By(func(any) error {
			if r.Role == "" || auth.RoleIsAtLeast(maxRole, r.Role) {
				return nil
			}
			return fmt.Errorf("role %q can not be self assigned", r.Role)
		})),
	)
}

func (a *Controller) RegisterPost(c *fiber.Ctx) error {
	payload := new(RegisterRequest)
	if err := c.BodyParser(payload); err != nil {
		return auth.WrapError(auth.ErrValidation, err, map[string]any{"reason": "malformed body"})
	}

	if err := payload.Validate(a.maxRole); err != nil {
		return auth.WrapError(auth.ErrValidation, fmt.Errorf("invalid registration: %w", err), validationMeta(err))
	}

	res, err := a.accounts.Register(c.UserContext(), auth.RegisterUserMessage{
		Email:            payload.Email,
		Password:         payload.Password,
		Phone:            payload.Phone,
		Role:             payload.Role,
		IsOrganization:   payload.IsOrganization,
		FirstName:        payload.FirstName,
		LastName:         payload.LastName,
		OrganizationName: payload.OrganizationName,
		UseHashid:        a.useHashid,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{User: res.User, Token: res.Token})
}

func (a *Controller) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return auth.WrapError(auth.ErrValidation, err, map[string]any{"reason": "malformed body"})
	}

	if err := payload.Validate(); err != nil {
		return auth.WrapError(auth.ErrValidation, fmt.Errorf("invalid login: %w", err), validationMeta(err))
	}

	res, err := a.accounts.Login(c.UserContext(), payload.Identifier, payload.Password)
	if err != nil {
		return err
	}

	return c.JSON(AuthResponse{User: res.User, Token: res.Token})
}

func (a *Controller) RefreshPost(c *fiber.Ctx) error {
	raw := bearerToken(c.Get(fiber.HeaderAuthorization))
	if raw == "" {
		return auth.WrapError(auth.ErrTokenMalformed, nil, map[string]any{"reason": "missing bearer token"})
	}

	res, err := a.accounts.Refresh(c.UserContext(), raw)
	if err != nil {
		return err
	}

	return c.JSON(AuthResponse{User: res.User, Token: res.Token})
}

func (a *Controller) FederatedStart(c *fiber.Ctx) error {
	provider, err := a.providers.Get(c.Params("provider"))
	if err != nil {
		return err
	}

	authorizer, ok := provider.(Authorizer)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "provider does not support redirects")
	}

	target, err := authorizer.AuthCodeURL()
	if err != nil {
		return err
	}

	return c.Redirect(target, fiber.StatusFound)
}

func (a *Controller) FederatedCallback(c *fiber.Ctx) error {
	name := c.Params("provider")
	provider, err := a.providers.Get(name)
	if err != nil {
		return a.federatedError(c, name, err)
	}

	params := url.Values{}
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		params.Add(string(key), string(value))
	})

	res, err := a.federated.Reconcile(c.UserContext(), provider, params)
	if err != nil {
		return a.federatedError(c, name, err)
	}

	if a.successURL == "" {
		return c.JSON(struct {
			AuthResponse
			IsNewUser bool `json:"is_new_user"`
		}{AuthResponse{User: res.User, Token: res.Token}, res.WasNewlyCreated})
	}

	return c.Redirect(successRedirect(a.successURL, res), fiber.StatusFound)
}

func (a *Controller) federatedError(c *fiber.Ctx, provider string, err error) error {
	if a.errorURL == "" {
		return err
	}

	reason := "federated_login_failed"
	if failure, ok := federation.AsFailure(err); ok {
		reason = failure.Reason()
	} else if auth.HasTextCode(err, federation.TextCodeProviderNotFound) {
		reason = "unknown_provider"
	}
	a.logger.Warn("federated login with %s failed: %v", provider, err)

	target, perr := url.Parse(a.errorURL)
	if perr != nil {
		return err
	}
	q := target.Query()
	q.Set("error", reason)
	q.Set("provider", provider)
	target.RawQuery = q.Encode()

	return c.Redirect(target.String(), fiber.StatusFound)
}

// successRedirect puts the token in the URL fragment so it is never sent to
// a server.
func successRedirect(base string, res *federation.Result) string {
	fragment := url.Values{}
	fragment.Set("access_token", res.Token.AccessToken)
	fragment.Set("token_type", res.Token.TokenType)
	if res.Token.ExpiresIn != nil {
		fragment.Set("expires_in", strconv.Itoa(*res.Token.ExpiresIn))
	}
	fragment.Set("is_new_user", strconv.FormatBool(res.WasNewlyCreated))

	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	return base + "#" + fragment.Encode()
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// validationMeta names the first failing field, sorted for stable output.
func validationMeta(err error) map[string]any {
	errs, ok := err.(validation.Errors)
	if !ok || len(errs) == 0 {
		return nil
	}
	first := ""
	for field := range errs {
		if first == "" || field < first {
			first = field
		}
	}
	return map[string]any{"field": first}
}
