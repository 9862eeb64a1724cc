package world

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Credentials is the identity material of one World. It is generated once and
// never changes.
type Credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// CredentialGenerator produces identity material for a World.
type CredentialGenerator interface {
	Generate(worldID string) (Credentials, error)
}

// CredentialGeneratorFunc adapts a function to CredentialGenerator.
type CredentialGeneratorFunc func(worldID string) (Credentials, error)

func (f CredentialGeneratorFunc) Generate(worldID string) (Credentials, error) {
	return f(worldID)
}

// UUIDCredentials derives unique credentials from a random UUID.
type UUIDCredentials struct {
	// Domain of generated email addresses, "example.test" when empty
	Domain string
}

func (g UUIDCredentials) Generate(string) (Credentials, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Credentials{}, fmt.Errorf("generate credentials: %w", err)
	}
	domain := g.Domain
	if domain == "" {
		domain = "example.test"
	}

	short := id.String()[:8]
	// 555-01xx numbers are reserved for fiction.
	line := binary.BigEndian.Uint16(id[8:10]) % 100

	return Credentials{
		Username: "user-" + short,
		Email:    fmt.Sprintf("user+%s@%s", short, domain),
		Phone:    fmt.Sprintf("+1555%d01%02d", 200+int(id[0])%800, line),
		Password: id.String(),
	}, nil
}
