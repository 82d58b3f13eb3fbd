package ports

import "github.com/layer-3/botcha/core"

// Tokenizer converts between identities and signed tokens
type Tokenizer interface {
	IdentityToAccessToken(identity *core.Identity) (string, error)
	IdentityToRefreshToken(identity *core.Identity) (string, error)
	RefreshTokenToIdentity(token string) (*core.Identity, error)
}
