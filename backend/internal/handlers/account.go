package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/config"
	"taskify/backend/internal/middleware"
	"taskify/backend/internal/models"
	"taskify/backend/internal/optimistic"
	"taskify/backend/internal/services"
	"taskify/backend/internal/validation"
)

// SessionPages serves sign-in, sign-up, sign-out and the account page.
type SessionPages struct {
	authService     services.AuthService
	registerService services.RegisterService
	accounts        services.AccountService
	views           *Views
	cfg             config.AuthConfig
	log             logrus.FieldLogger
}

func NewSessionPages(authService services.AuthService, registerService services.RegisterService, accounts services.AccountService, views *Views, cfg config.AuthConfig, log logrus.FieldLogger) *SessionPages {
	return &SessionPages{
		authService:     authService,
		registerService: registerService,
		accounts:        accounts,
		views:           views,
		cfg:             cfg,
		log:             log.WithField("component", "session_pages"),
	}
}

func (h *SessionPages) setSessionCookie(c *gin.Context, token string, expires time.Time) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, token, int(time.Until(expires).Seconds()), "/", "", h.cfg.SecureCookies, true)
}

func (h *SessionPages) renderAuth(c *gin.Context, status int, signUp bool, email string, err error) {
	title := "Sign in"
	if signUp {
		title = "Sign up"
	}
	page := authPage{layoutData: layout(c, title), SignUp: signUp, Email: email}
	if err != nil {
		page.Errors = fieldErrors(err)
		if page.Errors == nil {
			page.Message = optimistic.ErrorMessage(err)
		}
	}
	c.HTML(status, "auth.tmpl", page)
}

func (h *SessionPages) SignInPage(c *gin.Context) {
	if middleware.SessionFrom(c) != nil {
		c.Redirect(http.StatusSeeOther, "/tasks")
		return
	}
	h.renderAuth(c, http.StatusOK, false, "", nil)
}

func (h *SessionPages) SignUpPage(c *gin.Context) {
	if middleware.SessionFrom(c) != nil {
		c.Redirect(http.StatusSeeOther, "/tasks")
		return
	}
	h.renderAuth(c, http.StatusOK, true, "", nil)
}

func (h *SessionPages) SignIn(c *gin.Context) {
	var in validation.CredentialsInput
	if err := bindForm(c, h.log, &in); err != nil {
		h.renderAuth(c, http.StatusBadRequest, false, in.Email, err)
		return
	}

	token, session, err := h.authService.SignIn(c.Request.Context(), in)
	if err != nil {
		h.renderAuth(c, statusFor(err), false, in.Email, err)
		return
	}
	h.setSessionCookie(c, token, session.ExpiresAt)
	c.Redirect(http.StatusSeeOther, "/tasks")
}

// SignUp registers the account and signs it in straight away.
func (h *SessionPages) SignUp(c *gin.Context) {
	var in validation.CredentialsInput
	if err := bindForm(c, h.log, &in); err != nil {
		h.renderAuth(c, http.StatusBadRequest, true, in.Email, err)
		return
	}

	user, err := h.registerService.RegisterUser(c.Request.Context(), in)
	if err != nil {
		h.renderAuth(c, statusFor(err), true, in.Email, err)
		return
	}
	token, session, err := h.authService.IssueSession(c.Request.Context(), user)
	if err != nil {
		h.log.WithError(err).Error("failed to issue session after sign-up")
		h.renderAuth(c, http.StatusInternalServerError, false, in.Email, err)
		return
	}
	h.setSessionCookie(c, token, session.ExpiresAt)
	c.Redirect(http.StatusSeeOther, "/tasks")
}

func (h *SessionPages) SignOut(c *gin.Context) {
	if token, err := c.Cookie(h.cfg.CookieName); err == nil && token != "" {
		if err := h.authService.SignOut(c.Request.Context(), token); err != nil {
			h.log.WithError(err).Debug("sign-out with unusable token")
		}
	}
	h.views.Forget(middleware.SessionFrom(c))
	c.SetCookie(h.cfg.CookieName, "", -1, "/", "", h.cfg.SecureCookies, true)
	c.Redirect(http.StatusSeeOther, "/sign-in")
}

func (h *SessionPages) AccountPage(c *gin.Context) {
	user, err := h.accounts.GetAccount(c.Request.Context(), middleware.SessionFrom(c))
	if err != nil {
		renderError(c, statusFor(err), optimistic.ErrorMessage(err))
		return
	}
	c.HTML(http.StatusOK, "account.tmpl", accountPage{
		layoutData: layout(c, "Account"),
		Form:       validation.AccountInput{Name: user.Name, Email: user.Email},
	})
}

func (h *SessionPages) UpdateAccount(c *gin.Context) {
	var in validation.AccountInput
	var user models.User
	err := bindForm(c, h.log, &in)
	if err == nil {
		user, err = h.accounts.UpdateAccount(c.Request.Context(), middleware.SessionFrom(c), in)
	}
	if err != nil {
		page := accountPage{layoutData: layout(c, "Account"), Form: in, Errors: fieldErrors(err)}
		if page.Errors == nil {
			page.Message = optimistic.ErrorMessage(err)
		}
		c.HTML(statusFor(err), "account.tmpl", page)
		return
	}

	page := accountPage{
		layoutData: layout(c, "Account"),
		Form:       validation.AccountInput{Name: user.Name, Email: user.Email},
		Saved:      true,
		Message:    "Account updated",
	}
	if page.User != nil {
		page.User.Name, page.User.Email = user.Name, user.Email
	}
	c.HTML(http.StatusOK, "account.tmpl", page)
}
