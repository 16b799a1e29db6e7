package testutil

import (
	"time"

	"github.com/aferconlda/aferconpay1/libs/apikey"
	"github.com/aferconlda/aferconpay1/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	DemoCustomerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	DemoCashierID  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	DemoMerchantID = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	DemoAdminID    = uuid.MustParse("00000000-0000-0000-0000-000000000004")
)

func GenerateJWT(accountID uuid.UUID, roles []string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(roles) == 0 {
		roles = []string{"customer"}
	}
	claims := auth.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "aferconpay-auth",
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func GenerateAPIKey(env string) (string, string, string, error) {
	return apikey.Generate(env)
}
