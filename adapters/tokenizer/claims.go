package tokenizer

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/botcha/verify"
)

// AccessClaims are the claims of an access token, shared with the verifier
type AccessClaims = verify.Claims

// RefreshClaims carry what is needed to mint an equivalent access token later
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type      string `json:"type"`
	SolveTime int64  `json:"solveTime"`
	ClientIP  string `json:"client_ip,omitempty"`
	AppID     string `json:"app_id,omitempty"`
}
