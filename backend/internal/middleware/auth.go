package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/auth"
)

const sessionContextKey = "session"

// SessionValidator resolves a session token.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// SessionToken returns the raw token from the Authorization header or, when
// absent, the session cookie.
func SessionToken(c *gin.Context, cookieName string) string {
	if t := bearerToken(c); t != "" {
		return t
	}
	t, _ := c.Cookie(cookieName)
	return t
}

// Authenticate attaches the session, if any, to the request. It never
// rejects a request; RequireSession and RequirePageSession do that.
func Authenticate(validator SessionValidator, cookieName string, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c, cookieName)
		if token == "" {
			c.Next()
			return
		}

		session, err := validator.ValidateSession(c.Request.Context(), token)
		if err != nil {
			log.WithError(err).WithField("request_id", GetRequestID(c)).Debug("session rejected")
			if bearerToken(c) == "" {
				c.SetCookie(cookieName, "", -1, "/", "", false, true)
			}
			c.Next()
			return
		}

		c.Set(sessionContextKey, session)
		c.Set("user_id", session.User.ID.String())
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), session))
		c.Next()
	}
}

func SessionFrom(c *gin.Context) *auth.Session {
	if v, ok := c.Get(sessionContextKey); ok {
		if s, ok := v.(*auth.Session); ok {
			return s
		}
	}
	return nil
}

// RequireSession rejects unauthenticated API calls with 401.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if SessionFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequirePageSession sends unauthenticated page requests to the sign-in page.
func RequirePageSession(signInPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if SessionFrom(c) == nil {
			c.Redirect(http.StatusSeeOther, signInPath)
			c.Abort()
			return
		}
		c.Next()
	}
}
