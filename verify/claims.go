package verify

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the wire claim set of a BOTCHA access token. The issuer signs this
// structure and the verifier decodes it.
type Claims struct {
	jwt.RegisteredClaims
	Type      string  `json:"type"`
	SolveTime float64 `json:"solveTime"` // milliseconds, possibly fractional
	ClientIP  string  `json:"client_ip,omitempty"`
	AppID     string  `json:"app_id,omitempty"`
}

// UnmarshalJSON accepts solve_time as an alias of solveTime
func (c *Claims) UnmarshalJSON(data []byte) error {
	type plain Claims
	aux := struct {
		*plain
		SolveTimeSnake *float64 `json:"solve_time"`
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if c.SolveTime == 0 && aux.SolveTimeSnake != nil {
		c.SolveTime = *aux.SolveTimeSnake
	}
	return nil
}

// missingClaim names the first required claim the parser does not enforce itself
func (c *Claims) missingClaim() string {
	switch {
	case c.Subject == "":
		return "sub"
	case c.IssuedAt == nil:
		return "iat"
	case c.ID == "":
		return "jti"
	}
	return ""
}

func (c *Claims) payload() *Payload {
	p := &Payload{
		Subject:   c.Subject,
		ID:        c.ID,
		Type:      c.Type,
		SolveTime: time.Duration(math.Round(c.SolveTime * float64(time.Millisecond))),
		Audience:  strings.Join(c.Audience, ","),
		ClientIP:  c.ClientIP,
		AppID:     c.AppID,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}
