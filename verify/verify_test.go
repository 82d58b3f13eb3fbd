package verify

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-botcha"

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":       "test-challenge-123",
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"jti":       "test-jti-123",
		"type":      "botcha-verified",
		"solveTime": 1234,
	}
}

func sign(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifyValidToken(t *testing.T) {
	result := Verify(sign(t, validClaims(), testSecret), testSecret)

	require.True(t, result.Valid, result.Error)
	assert.Equal(t, KindNone, result.Kind)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "test-challenge-123", result.Payload.Subject)
	assert.Equal(t, "botcha-verified", result.Payload.Type)
	assert.Equal(t, 1234*time.Millisecond, result.Payload.SolveTime)
	assert.Equal(t, "test-jti-123", result.Payload.ID)
	assert.Empty(t, result.Payload.Audience)
	assert.Empty(t, result.Payload.ClientIP)
}

func TestVerifySnakeCaseSolveTime(t *testing.T) {
	claims := validClaims()
	delete(claims, "solveTime")
	claims["solve_time"] = 99

	result := Verify(sign(t, claims, testSecret), testSecret)

	require.True(t, result.Valid, result.Error)
	assert.Equal(t, 99*time.Millisecond, result.Payload.SolveTime)
}

func TestVerifyFractionalSolveTime(t *testing.T) {
	tests := []struct {
		name  string
		claim string
		value any
		want  time.Duration
	}{
		{name: "camel case", claim: "solveTime", value: 123.4, want: 123400 * time.Microsecond},
		{name: "snake case", claim: "solve_time", value: 0.5, want: 500 * time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			delete(claims, "solveTime")
			claims[tt.claim] = tt.value

			result := Verify(sign(t, claims, testSecret), testSecret)

			require.True(t, result.Valid, result.Error)
			assert.Equal(t, KindNone, result.Kind)
			assert.Equal(t, tt.want, result.Payload.SolveTime)
		})
	}
}

func TestVerifyMissingSolveTimeDefaultsToZero(t *testing.T) {
	claims := validClaims()
	delete(claims, "solveTime")

	result := Verify(sign(t, claims, testSecret), testSecret)

	require.True(t, result.Valid, result.Error)
	assert.Zero(t, result.Payload.SolveTime)
}

func TestVerifyExpiredToken(t *testing.T) {
	claims := validClaims()
	claims["iat"] = time.Now().Add(-10 * time.Minute).Unix()
	claims["exp"] = time.Now().Add(-5 * time.Minute).Unix()

	result := Verify(sign(t, claims, testSecret), testSecret)

	assert.False(t, result.Valid)
	assert.Nil(t, result.Payload)
	assert.Equal(t, KindExpired, result.Kind)
	assert.Contains(t, strings.ToLower(result.Error), "expired")
}

func TestVerifyInvalidSignature(t *testing.T) {
	token := sign(t, validClaims(), testSecret)

	for _, secret := range []string{"wrong-secret", testSecret + "x", "a"} {
		result := Verify(token, secret)

		assert.False(t, result.Valid)
		assert.Nil(t, result.Payload)
		assert.Equal(t, KindInvalidSignature, result.Kind)
		assert.Contains(t, strings.ToLower(result.Error), "signature")
	}
}

func TestVerifyExpiredTokenWithWrongSecretReportsSignature(t *testing.T) {
	claims := validClaims()
	claims["exp"] = time.Now().Add(-5 * time.Minute).Unix()

	result := Verify(sign(t, claims, testSecret), "wrong-secret")

	assert.Equal(t, KindInvalidSignature, result.Kind)
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims()).SignedString([]byte(testSecret))
	require.NoError(t, err)

	result := Verify(token, testSecret)

	assert.False(t, result.Valid)
	assert.Equal(t, KindInvalidSignature, result.Kind)
}

func TestVerifyWrongType(t *testing.T) {
	for _, typ := range []string{"botcha-refresh", "", "BOTCHA-VERIFIED", "verified"} {
		t.Run("type="+typ, func(t *testing.T) {
			claims := validClaims()
			claims["type"] = typ

			result := Verify(sign(t, claims, testSecret), testSecret)

			assert.False(t, result.Valid)
			assert.Nil(t, result.Payload)
			assert.Equal(t, KindWrongType, result.Kind)
			assert.Contains(t, result.Error, "type")
			assert.Contains(t, result.Error, "'botcha-verified'")
			assert.Contains(t, result.Error, "'"+typ+"'")
		})
	}
}

func TestVerifyMissingType(t *testing.T) {
	claims := validClaims()
	delete(claims, "type")

	result := Verify(sign(t, claims, testSecret), testSecret)

	assert.Equal(t, KindWrongType, result.Kind)
	assert.Contains(t, result.Error, "type")
}

func TestVerifyMissingRequiredClaims(t *testing.T) {
	for _, claim := range []string{"sub", "iat", "exp", "jti"} {
		t.Run(claim, func(t *testing.T) {
			claims := validClaims()
			delete(claims, claim)

			result := Verify(sign(t, claims, testSecret), testSecret)

			assert.False(t, result.Valid)
			assert.Equal(t, KindMissingClaim, result.Kind)
			assert.Contains(t, result.Error, claim)
		})
	}
}

func TestVerifyMalformed(t *testing.T) {
	for _, token := range []string{"", "   ", "not-a-jwt", "a.b", "a.b.c"} {
		result := Verify(token, testSecret)

		assert.False(t, result.Valid, token)
		assert.Equal(t, KindMalformed, result.Kind, token)
		assert.NotEmpty(t, result.Error)
	}
}

func TestVerifyAudience(t *testing.T) {
	claims := validClaims()
	claims["aud"] = "https://api.example.com"
	token := sign(t, claims, testSecret)

	t.Run("match", func(t *testing.T) {
		result := Verify(token, testSecret, WithAudience("https://api.example.com"))

		require.True(t, result.Valid, result.Error)
		assert.Equal(t, "https://api.example.com", result.Payload.Audience)
	})

	t.Run("mismatch", func(t *testing.T) {
		result := Verify(token, testSecret, WithAudience("https://different-api.example.com"))

		assert.False(t, result.Valid)
		assert.Nil(t, result.Payload)
		assert.Equal(t, KindAudienceMismatch, result.Kind)
		assert.Contains(t, result.Error, "audience")
		assert.Contains(t, result.Error, "https://different-api.example.com")
		assert.Contains(t, result.Error, "https://api.example.com")
	})

	t.Run("not required", func(t *testing.T) {
		result := Verify(token, testSecret)

		assert.True(t, result.Valid, result.Error)
	})

	t.Run("required but absent", func(t *testing.T) {
		result := Verify(sign(t, validClaims(), testSecret), testSecret, WithAudience("https://api.example.com"))

		assert.Equal(t, KindAudienceMismatch, result.Kind)
	})
}

func TestVerifyClientIP(t *testing.T) {
	claims := validClaims()
	claims["client_ip"] = "192.168.1.1"
	token := sign(t, claims, testSecret)

	t.Run("match", func(t *testing.T) {
		result := Verify(token, testSecret, WithClientIP("192.168.1.1"))

		require.True(t, result.Valid, result.Error)
		assert.Equal(t, "192.168.1.1", result.Payload.ClientIP)
	})

	t.Run("mismatch", func(t *testing.T) {
		result := Verify(token, testSecret, WithClientIP("10.0.0.1"))

		assert.False(t, result.Valid)
		assert.Equal(t, KindClientIPMismatch, result.Kind)
		assert.Contains(t, result.Error, "IP")
		assert.Contains(t, result.Error, "10.0.0.1")
		assert.Contains(t, result.Error, "192.168.1.1")
	})

	t.Run("required but token unbound", func(t *testing.T) {
		result := Verify(sign(t, validClaims(), testSecret), testSecret, WithClientIP("10.0.0.1"))

		assert.Equal(t, KindClientIPMismatch, result.Kind)
		assert.Contains(t, result.Error, "IP")
	})
}

func TestVerifyEmptySecret(t *testing.T) {
	result := Verify(sign(t, validClaims(), testSecret), "")

	assert.False(t, result.Valid)
	assert.Equal(t, KindMisconfigured, result.Kind)

	_, err := New("")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerifierDefaultsAndOverrides(t *testing.T) {
	claims := validClaims()
	claims["aud"] = "svc-a"
	token := sign(t, claims, testSecret)

	v, err := New(testSecret, WithAudience("svc-b"))
	require.NoError(t, err)

	assert.Equal(t, KindAudienceMismatch, v.Verify(token).Kind)
	assert.True(t, v.Verify(token, WithAudience("svc-a")).Valid)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc.def.ghi", want: "abc.def.ghi", ok: true},
		{header: "", ok: false},
		{header: "Bearer ", ok: false},
		{header: "Basic dXNlcjpwYXNz", ok: false},
		{header: "bearer abc", ok: false},
	}

	for _, tt := range tests {
		got, ok := ExtractBearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}
