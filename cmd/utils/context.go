package utils

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"github.com/golang-jwt/jwt/v4"
)

type contextKey string

const CallerKey contextKey = "caller"

// Claims is the token payload issued at login: subject carries the user id,
// plus the resolved role and school membership the handlers authorize on.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	SchoolID uint   `json:"school_id"`
}

// Caller is the authenticated identity resolved by AuthMiddleware.
type Caller struct {
	UserID   uint
	Role     models.Role
	SchoolID uint
}

func GetCaller(r *http.Request) (Caller, error) {
	caller, ok := r.Context().Value(CallerKey).(Caller)
	if !ok {
		return Caller{}, errors.New("caller not found in context")
	}
	return caller, nil
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.Replace(authHeader, "Bearer ", "", 1)

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(os.Getenv("SECRET_KEY")), nil
		})

		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		userID, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			http.Error(w, "Invalid user ID in token", http.StatusUnauthorized)
			return
		}

		role, ok := models.ParseRole(claims.Role)
		if !ok {
			http.Error(w, "Invalid role in token", http.StatusUnauthorized)
			return
		}

		caller := Caller{UserID: uint(userID), Role: role, SchoolID: claims.SchoolID}
		ctx := context.WithValue(r.Context(), CallerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
