// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"
)

// Issuer is the issuer (iss) of the tokens
const Issuer = "volumed"

// TokenExpiryDefault is the lifetime of a token if not set
const TokenExpiryDefault = 2 * time.Hour

var errUnauthorized = errors.New("unauthorized")

// Credentials are the body of a token request
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token is the response to a token request
type Token struct {
	Token    string `json:"token"`
	Expiry   int64  `json:"exp"`
	Issuer   string `json:"iss"`
	Username string `json:"username"`
}

// Claims are the claims of a token
type Claims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

// TokenIssuer issues HS256 signed tokens to users with bcrypt hashed passwords
type TokenIssuer struct {
	Secret []byte
	Users  map[string]string // username to bcrypt hash
	Expiry time.Duration
}

// HashPassword returns the bcrypt hash of a password
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Issue checks the credentials and returns a new token
func (ti *TokenIssuer) Issue(c *Credentials) (*Token, error) {
	hash, ok := ti.Users[c.Username]
	if !ok || c.Username == "" {
		return nil, fmt.Errorf("incorrect username or password: %w", errUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(c.Password))); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return nil, fmt.Errorf("incorrect username or password: %w", errUnauthorized)
		}
		return nil, err
	}
	expiry := ti.Expiry
	if expiry <= 0 {
		expiry = TokenExpiryDefault
	}
	claims := Claims{
		c.Username,
		jwt.StandardClaims{
			ExpiresAt: time.Now().Add(expiry).Unix(),
			Issuer:    Issuer,
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.Secret)
	if err != nil {
		return nil, err
	}
	return &Token{Token: s, Expiry: claims.ExpiresAt, Issuer: Issuer, Username: c.Username}, nil
}

// Validate parses a token and returns its claims
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("missing %s: %w", AuthTokenHeader, errUnauthorized)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return ti.Secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, fmt.Errorf("expired token: %w", errUnauthorized)
		}
		return nil, fmt.Errorf("invalid token: %s: %w", err.Error(), errUnauthorized)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, fmt.Errorf("invalid token claims: %w", errUnauthorized)
	}
	if _, ok := ti.Users[claims.Username]; !ok {
		return nil, fmt.Errorf("unknown user %q: %w", claims.Username, errUnauthorized)
	}
	return claims, nil
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if s.Tokens == nil {
		return badRequest("authentication is not enabled")
	}
	c := &Credentials{}
	if err := decode(r, c); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), errUnauthorized)
	}
	tok, err := s.Tokens.Issue(c)
	if err != nil {
		return err
	}
	s.Log.Infof("Issued token to %s", c.Username)
	return s.writeJSON(w, http.StatusOK, tok)
}
