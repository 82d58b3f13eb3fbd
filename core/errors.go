package core

import "errors"

var (
	ErrTokenExpired      = errors.New("token has expired")
	ErrTokenInvalidated  = errors.New("token has been invalidated")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidChallenge  = errors.New("invalid challenge")
	ErrChallengeExpired  = errors.New("challenge has expired")
	ErrWrongAnswers      = errors.New("challenge answers are incorrect")
	ErrAppMismatch       = errors.New("app id does not match challenge")
	ErrChallengeNotFound = errors.New("challenge not found")
)
