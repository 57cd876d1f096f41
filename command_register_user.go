package auth

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// RegisterUserMessage is the registration payload.
type RegisterUserMessage struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	Phone            string `json:"phone_number"`
	Role             string `json:"-"`
	IsOrganization   bool   `json:"is_organization"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	OrganizationName string `json:"organization_name"`
	// UseHashid derives the user id from the email address.
	UseHashid bool `json:"-"`
}

// Validate will validate the payload, parsing phone numbers for the default region.
func (e RegisterUserMessage) Validate() error {
	return e.validate(DefaultPhoneRegion)
}

func (e RegisterUserMessage) validate(region string) error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&e.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&e.Phone, validation.By(phoneRule(region))),
		validation.Field(&e.Role, validation.In(rolesAsAny()...)),
		validation.Field(&e.FirstName,
			validation.When(!e.IsOrganization, validation.Required, validation.Length(1, 200)).
				Else(validation.Empty),
		),
		validation.Field(&e.LastName,
			validation.When(!e.IsOrganization, validation.Required, validation.Length(1, 200)).
				Else(validation.Empty),
		),
		validation.Field(&e.OrganizationName,
			validation.When(e.IsOrganization, validation.Required, validation.Length(1, 200)).
				Else(validation.Empty),
		),
	)
}

func phoneRule(region string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if _, err := NormalizePhone(s, region); err != nil {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

func rolesAsAny() []any {
	roles := GetAllRoles()
	out := make([]any, 0, len(roles))
	for _, r := range roles {
		out = append(out, r)
	}
	return out
}
