package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/cache"
	"taskify/backend/internal/config"
	"taskify/backend/internal/logger"
	"taskify/backend/internal/middleware"
	"taskify/backend/internal/models"
	"taskify/backend/internal/optimistic"
	"taskify/backend/internal/repositories"
	"taskify/backend/internal/services"
	"taskify/backend/internal/validation"
)

const testCSRF = "test-csrf-token-0123456789abcdef"

type testApp struct {
	router   *gin.Engine
	tasks    services.TaskService
	auth     *services.AuthServiceImpl
	register *services.RegisterServiceImpl
	views    *Views
	cfg      config.AuthConfig
}

type signedIn struct {
	token   string
	session *auth.Session
}

func newTestApp(t *testing.T, wrap func(services.TaskService) services.TaskService) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repositories.AutoMigrate(db))

	log := logger.Discard()
	cfg := config.Default().Auth
	users := repositories.NewUserRepository(db)

	var tasks services.TaskService = services.NewTaskService(repositories.NewTaskRepository(db), nil, log)
	if wrap != nil {
		tasks = wrap(tasks)
	}
	authSvc := services.NewAuthService(users, repositories.NewSessionRepository(db), cfg, log)
	register := services.NewRegisterService(users, log).WithCost(bcrypt.MinCost)
	accounts := services.NewAccountService(users, log)

	store := cache.NewMemoryCache()
	t.Cleanup(func() { store.Close() })
	views := NewViews(store, time.Minute, log)

	r := gin.New()
	r.SetHTMLTemplate(Templates())
	authenticate := middleware.Authenticate(authSvc, cfg.CookieName, log)
	csrf := middleware.CSRF(false)

	api := r.Group("/api", authenticate)
	authHandler := NewAuthHandler(authSvc, log)
	api.POST("/auth/register", NewRegisterHandler(register, log).Registration)
	api.POST("/auth/login", authHandler.Token)
	api.POST("/auth/logout", middleware.RequireSession(), authHandler.Logout)

	taskHandler := NewTaskHandler(tasks, log)
	apiTasks := api.Group("/tasks", middleware.RequireSession(), csrf)
	apiTasks.POST("", taskHandler.CreateTask)
	apiTasks.PUT("", taskHandler.UpdateTask)
	apiTasks.DELETE("", taskHandler.DeleteTask)
	apiTasks.GET("", taskHandler.ListTasks)
	apiTasks.GET("/:id", taskHandler.GetTask)
	api.GET("/validate/task", middleware.RequireSession(), taskHandler.ValidateField)

	pages := r.Group("", authenticate, csrf)
	sessionPages := NewSessionPages(authSvc, register, accounts, views, cfg, log)
	pages.GET("/sign-in", sessionPages.SignInPage)
	pages.POST("/sign-in", sessionPages.SignIn)
	pages.GET("/sign-up", sessionPages.SignUpPage)
	pages.POST("/sign-up", sessionPages.SignUp)
	pages.POST("/sign-out", sessionPages.SignOut)

	private := pages.Group("", middleware.RequirePageSession("/sign-in"))
	taskPages := NewPageHandler(tasks, views, false, log)
	private.GET("/tasks", taskPages.ListTasks)
	private.POST("/tasks", taskPages.CreateTask)
	private.GET("/tasks/:id", taskPages.ShowTask)
	private.POST("/tasks/:id", taskPages.UpdateTask)
	private.POST("/tasks/:id/delete", taskPages.DeleteTask)
	private.GET("/account", sessionPages.AccountPage)
	private.POST("/account", sessionPages.UpdateAccount)

	return &testApp{router: r, tasks: tasks, auth: authSvc, register: register, views: views, cfg: cfg}
}

func (a *testApp) signUp(t *testing.T, email string) signedIn {
	t.Helper()
	creds := validation.CredentialsInput{Email: email, Password: "password123"}
	_, err := a.register.RegisterUser(context.Background(), creds)
	require.NoError(t, err)
	token, session, err := a.auth.SignIn(context.Background(), creds)
	require.NoError(t, err)
	return signedIn{token: token, session: session}
}

func (a *testApp) apiRequest(t *testing.T, who *signedIn, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set("Authorization", "Bearer "+who.token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) page(who *signedIn, method, path string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		form.Set(middleware.CSRFFormField, testCSRF)
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: testCSRF})
	if who != nil {
		req.AddCookie(&http.Cookie{Name: a.cfg.CookieName, Value: who.token})
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func today() string {
	return time.Now().In(validation.Location).Format("2006-01-02")
}

func TestAPI_CreateTask(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	w := app.apiRequest(t, &ada, "POST", "/api/tasks", map[string]string{"title": "Buy milk"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var task models.Task
	decode(t, w, &task)
	assert.Equal(t, "Buy milk", task.Title)
	assert.Equal(t, models.StatusTodo, task.Status)
	assert.Equal(t, ada.session.User.ID, task.UserID)
	assert.NotEqual(t, uuid.Nil, task.ID)
}

func TestAPI_CreateTaskValidation(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	w := app.apiRequest(t, &ada, "POST", "/api/tasks", map[string]string{"title": "", "status": "LATER"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Error  string              `json:"error"`
		Fields map[string][]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Equal(t, "validation failed", body.Error)
	assert.Contains(t, body.Fields, "title")
	assert.Contains(t, body.Fields, "status")
}

func TestAPI_RequiresSession(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.apiRequest(t, nil, "POST", "/api/tasks", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.apiRequest(t, &signedIn{token: "garbage"}, "GET", "/api/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_UpdateAndDelete(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Draft"})
	require.NoError(t, err)

	w := app.apiRequest(t, &ada, "PUT", "/api/tasks?id="+task.ID.String(), map[string]string{"status": "DONE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Task
	decode(t, w, &updated)
	assert.Equal(t, task.ID, updated.ID)
	assert.Equal(t, "Draft", updated.Title)
	assert.Equal(t, models.StatusDone, updated.Status)

	w = app.apiRequest(t, &ada, "DELETE", "/api/tasks?id="+task.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deleted models.Task
	decode(t, w, &deleted)
	assert.Equal(t, task.ID, deleted.ID)

	w = app.apiRequest(t, &ada, "GET", "/api/tasks/"+task.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_ForeignTaskIsForbidden(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")
	bob := app.signUp(t, "bob@example.com")

	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Private"})
	require.NoError(t, err)

	for _, tc := range []struct {
		method, path string
		body         interface{}
	}{
		{"PUT", "/api/tasks?id=" + task.ID.String(), map[string]string{"title": "Mine now"}},
		{"DELETE", "/api/tasks?id=" + task.ID.String(), nil},
		{"GET", "/api/tasks/" + task.ID.String(), nil},
	} {
		w := app.apiRequest(t, &bob, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusForbidden, w.Code, tc.method)
		var body map[string]string
		decode(t, w, &body)
		assert.Equal(t, "unauthorized", body["error"])
	}

	got, err := app.tasks.GetTask(context.Background(), ada.session, task.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Private", got.Title)
}

func TestAPI_ListTasksFilters(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")
	ctx := context.Background()

	_, err := app.tasks.CreateTask(ctx, ada.session, validation.TaskInput{Title: "Early", DueDate: "2030-01-01"})
	require.NoError(t, err)
	_, err = app.tasks.CreateTask(ctx, ada.session, validation.TaskInput{Title: "Late", DueDate: "2030-02-01", Status: "DONE"})
	require.NoError(t, err)
	_, err = app.tasks.CreateTask(ctx, ada.session, validation.TaskInput{Title: "Undated"})
	require.NoError(t, err)

	var body struct {
		Tasks []models.Task `json:"tasks"`
		Total int           `json:"total"`
	}

	w := app.apiRequest(t, &ada, "GET", "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, 3, body.Total)

	w = app.apiRequest(t, &ada, "GET", "/api/tasks?dueDate=2030-01-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "Early", body.Tasks[0].Title)

	w = app.apiRequest(t, &ada, "GET", "/api/tasks?dueDate=2030-12-31&status=done", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "Late", body.Tasks[0].Title)

	w = app.apiRequest(t, &ada, "GET", "/api/tasks?dueDate=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.apiRequest(t, &ada, "GET", "/api/tasks?createdTill=2099-12-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, 3, body.Total)

	w = app.apiRequest(t, &ada, "GET", "/api/tasks?createdFrom=2099-01-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, 0, body.Total)

	w = app.apiRequest(t, &ada, "GET", "/api/tasks?createdFrom=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "createdFrom")
}

func TestAPI_ValidateField(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	var body struct {
		Field  string   `json:"field"`
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}

	w := app.apiRequest(t, &ada, "GET", "/api/validate/task?field=title&value=", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, "title", body.Field)
	assert.False(t, body.Valid)
	assert.Equal(t, []string{"Required"}, body.Errors)

	w = app.apiRequest(t, &ada, "GET", "/api/validate/task?field=title&value=Milk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body.Errors = nil
	decode(t, w, &body)
	assert.True(t, body.Valid)
	assert.Empty(t, body.Errors)

	w = app.apiRequest(t, &ada, "GET", "/api/validate/task", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.apiRequest(t, nil, "GET", "/api/validate/task?field=title&value=x", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_RegisterAndLogin(t *testing.T) {
	app := newTestApp(t, nil)
	creds := map[string]string{"email": "Grace@Example.com", "password": "password123"}

	w := app.apiRequest(t, nil, "POST", "/api/auth/register", creds)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	w = app.apiRequest(t, nil, "POST", "/api/auth/register", creds)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.apiRequest(t, nil, "POST", "/api/auth/login", map[string]string{"email": "grace@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Incorrect email or password")

	w = app.apiRequest(t, nil, "POST", "/api/auth/login", creds)
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token string    `json:"token"`
		User  auth.User `json:"user"`
	}
	decode(t, w, &login)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "grace@example.com", login.User.Email)

	who := &signedIn{token: login.Token}
	w = app.apiRequest(t, who, "POST", "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = app.apiRequest(t, who, "GET", "/api/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPages_RedirectWithoutSession(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.page(nil, "GET", "/tasks", nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/sign-in", w.Header().Get("Location"))
}

func TestPages_CreateTask(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	w := app.page(&ada, "POST", "/tasks", url.Values{
		"title":    {"Water plants"},
		"status":   {"TODO"},
		"due_date": {today()},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/tasks?dueDate="+today()+"&filter=all", w.Header().Get("Location"))

	w = app.page(&ada, "GET", "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Water plants")
	assert.NotContains(t, w.Body.String(), `data-id="optimistic"`)
}

func TestPages_CreateTaskValidation(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	w := app.page(&ada, "POST", "/tasks", url.Values{"title": {"   "}, "description": {"kept"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Required")
	assert.Contains(t, w.Body.String(), "kept")

	tasks, err := app.tasks.ListTasks(context.Background(), ada.session, models.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPages_RejectsMissingCSRF(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	req := httptest.NewRequest("POST", "/tasks", strings.NewReader("title=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: app.cfg.CookieName, Value: ada.token})
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

type flakyTasks struct {
	services.TaskService
	createErr error
	updateErr error
	deleteErr error
	entered   chan struct{}
	release   chan struct{}
}

func (f *flakyTasks) CreateTask(ctx context.Context, s *auth.Session, in validation.TaskInput) (models.Task, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.createErr != nil {
		return models.Task{}, f.createErr
	}
	return f.TaskService.CreateTask(ctx, s, in)
}

func (f *flakyTasks) UpdateTask(ctx context.Context, s *auth.Session, in validation.TaskUpdateInput) (models.Task, error) {
	if f.updateErr != nil {
		return models.Task{}, f.updateErr
	}
	return f.TaskService.UpdateTask(ctx, s, in)
}

func (f *flakyTasks) DeleteTask(ctx context.Context, s *auth.Session, id string) (models.Task, error) {
	if f.deleteErr != nil {
		return models.Task{}, f.deleteErr
	}
	return f.TaskService.DeleteTask(ctx, s, id)
}

func TestPages_CreateFailureKeepsOverlay(t *testing.T) {
	flaky := &flakyTasks{createErr: &services.PersistenceError{Op: "create", Err: context.DeadlineExceeded}}
	app := newTestApp(t, func(s services.TaskService) services.TaskService {
		flaky.TaskService = s
		return flaky
	})
	ada := app.signUp(t, "ada@example.com")

	w := app.page(&ada, "POST", "/tasks", url.Values{"title": {"Doomed"}, "description": {"try again"}})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "Could not create task, please try again.")
	assert.Contains(t, body, `data-id="optimistic"`)
	assert.Contains(t, body, "not saved")
	assert.Contains(t, body, `value="Doomed"`)
	assert.Contains(t, body, "try again")
}

func TestPages_DeleteFailureMarksEntry(t *testing.T) {
	flaky := &flakyTasks{}
	app := newTestApp(t, func(s services.TaskService) services.TaskService {
		flaky.TaskService = s
		return flaky
	})
	ada := app.signUp(t, "ada@example.com")
	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Sticky", DueDate: today()})
	require.NoError(t, err)

	flaky.deleteErr = &services.PersistenceError{Op: "delete", Err: context.Canceled}
	w := app.page(&ada, "POST", "/tasks/"+task.ID.String()+"/delete", url.Values{"view": {"list"}})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `data-id="delete"`)
	assert.Contains(t, w.Body.String(), "not saved")
	assert.Contains(t, w.Body.String(), "Could not delete task, please try again.")

	flaky.deleteErr = nil
	w = app.page(&ada, "GET", "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `data-id="delete"`)
	assert.Contains(t, w.Body.String(), "Sticky")
}

func TestPages_UpdateFailureFromListOffersRetry(t *testing.T) {
	flaky := &flakyTasks{}
	app := newTestApp(t, func(s services.TaskService) services.TaskService {
		flaky.TaskService = s
		return flaky
	})
	ada := app.signUp(t, "ada@example.com")
	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Quick", DueDate: today()})
	require.NoError(t, err)
	path := "/tasks/" + task.ID.String()

	flaky.updateErr = &services.PersistenceError{Op: "update", Err: context.DeadlineExceeded}
	w := app.page(&ada, "POST", path, url.Values{"view": {"list"}, "status": {"DONE"}})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "Could not update task, please try again.")
	assert.Contains(t, body, `data-id="`+task.ID.String()+`"`)
	assert.Contains(t, body, "not saved")
	assert.Contains(t, body, `class="retry"`)
	assert.Contains(t, body, `action="`+path+`"`)
	assert.Contains(t, body, `value="Quick"`)
	assert.Contains(t, body, `value="DONE" selected`)

	flaky.updateErr = nil
	w = app.page(&ada, "POST", path, url.Values{
		"view":        {"list"},
		"title":       {"Quick"},
		"description": {""},
		"status":      {"DONE"},
		"due_date":    {today()},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())

	got, err := app.tasks.GetTask(context.Background(), ada.session, task.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, today(), dateInput(got.DueDate))
}

func TestPages_UpdateFailureOnDetailKeepsAttempt(t *testing.T) {
	flaky := &flakyTasks{}
	app := newTestApp(t, func(s services.TaskService) services.TaskService {
		flaky.TaskService = s
		return flaky
	})
	ada := app.signUp(t, "ada@example.com")
	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Before"})
	require.NoError(t, err)
	path := "/tasks/" + task.ID.String()

	flaky.updateErr = &services.PersistenceError{Op: "update", Err: context.Canceled}
	w := app.page(&ada, "POST", path, url.Values{
		"title":       {"Attempted"},
		"description": {"second try"},
		"status":      {"IN_PROGRESS"},
		"due_date":    {"2031-02-03"},
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "Could not update task, please try again.")
	assert.Contains(t, body, "<h1>Attempted</h1>")
	assert.Contains(t, body, "not saved")
	assert.Contains(t, body, `action="`+path+`"`)
	assert.Contains(t, body, `value="Attempted"`)
	assert.Contains(t, body, "second try")
	assert.Contains(t, body, `value="IN_PROGRESS" selected`)
	assert.Contains(t, body, `value="2031-02-03"`)

	got, err := app.tasks.GetTask(context.Background(), ada.session, task.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Before", got.Title)
}

func TestPages_MalformedFormBody(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	req := httptest.NewRequest("POST", "/tasks", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.CSRFHeaderName, testCSRF)
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: testCSRF})
	req.AddCookie(&http.Cookie{Name: app.cfg.CookieName, Value: ada.token})
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid form submission")

	tasks, err := app.tasks.ListTasks(context.Background(), ada.session, models.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPages_SecondSubmitWhileSaving(t *testing.T) {
	flaky := &flakyTasks{entered: make(chan struct{}), release: make(chan struct{})}
	app := newTestApp(t, func(s services.TaskService) services.TaskService {
		flaky.TaskService = s
		return flaky
	})
	ada := app.signUp(t, "ada@example.com")

	var wg sync.WaitGroup
	var first *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = app.page(&ada, "POST", "/tasks", url.Values{"title": {"First"}})
	}()
	<-flaky.entered

	second := app.page(&ada, "POST", "/tasks", url.Values{"title": {"Second"}})
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), inFlightMessage)
	assert.Contains(t, second.Body.String(), `data-id="optimistic"`)

	close(flaky.release)
	wg.Wait()
	assert.Equal(t, http.StatusSeeOther, first.Code)
}

func TestPages_EditAndDeleteFromDetail(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")
	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Old title"})
	require.NoError(t, err)
	path := "/tasks/" + task.ID.String()

	w := app.page(&ada, "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `value="Old title"`)

	w = app.page(&ada, "POST", path, url.Values{
		"title":       {"New title"},
		"description": {""},
		"status":      {"IN_PROGRESS"},
		"due_date":    {"2031-05-04"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, path, w.Header().Get("Location"))

	got, err := app.tasks.GetTask(context.Background(), ada.session, task.ID.String())
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, "2031-05-04", dateInput(got.DueDate))

	w = app.page(&ada, "POST", path, url.Values{"title": {""}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Required")

	w = app.page(&ada, "POST", path+"/delete", url.Values{"dueDate": {"2031-06-01"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/tasks?dueDate=2031-06-01&filter=all", w.Header().Get("Location"))

	w = app.page(&ada, "GET", path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPages_UpdateStatusFromList(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")
	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Quick", DueDate: "2031-01-01"})
	require.NoError(t, err)

	w := app.page(&ada, "POST", "/tasks/"+task.ID.String(), url.Values{
		"view":    {"list"},
		"status":  {"DONE"},
		"dueDate": {"2031-01-02"},
		"filter":  {"todo"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/tasks?dueDate=2031-01-02&filter=todo", w.Header().Get("Location"))

	got, err := app.tasks.GetTask(context.Background(), ada.session, task.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Quick", got.Title)
	assert.Equal(t, models.StatusDone, got.Status)

	w = app.page(&ada, "GET", "/tasks?dueDate=2031-01-02&filter=todo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "Quick")

	w = app.page(&ada, "GET", "/tasks?dueDate=2031-01-02&filter=done", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Quick")
}

func TestPages_ForeignTask(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")
	bob := app.signUp(t, "bob@example.com")
	task, err := app.tasks.CreateTask(context.Background(), ada.session, validation.TaskInput{Title: "Ada only"})
	require.NoError(t, err)

	w := app.page(&bob, "GET", "/tasks/"+task.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "Ada only")

	w = app.page(&bob, "POST", "/tasks/"+task.ID.String()+"/delete", url.Values{"view": {"list"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err = app.tasks.GetTask(context.Background(), ada.session, task.ID.String())
	assert.NoError(t, err)

	w = app.page(&bob, "GET", "/tasks/not-a-task", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Task not found")
}

func TestPages_DueDateCookie(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")

	w := app.page(&ada, "GET", "/tasks?dueDate=2032-03-04", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var remembered string
	for _, c := range w.Result().Cookies() {
		if c.Name == dueDateCookie {
			remembered = c.Value
		}
	}
	assert.Equal(t, "2032-03-04", remembered)
}

func TestResolveListView(t *testing.T) {
	h := &PageHandler{now: func() time.Time {
		return time.Date(2030, 6, 15, 12, 0, 0, 0, validation.Location)
	}}

	v := h.resolveListView("", "", "")
	assert.Equal(t, "2030-06-15", v.DueDate)
	assert.Equal(t, "all", v.Filter)
	require.NotNil(t, v.filter.DueBefore)
	assert.Equal(t, models.TaskStatus(""), v.filter.Status)

	v = h.resolveListView("", "done", "2030-01-01")
	assert.Equal(t, "2030-01-01", v.DueDate)
	assert.Equal(t, models.StatusDone, v.filter.Status)

	v = h.resolveListView("not-a-date", "sometime", "")
	assert.Equal(t, "2030-06-15", v.DueDate)
	assert.Equal(t, "all", v.Filter)

	end := v.filter.DueBefore.In(validation.Location)
	assert.Equal(t, 15, end.Day())
	assert.Equal(t, 23, end.Hour())
}

func TestSignUpAndSignInPages(t *testing.T) {
	app := newTestApp(t, nil)

	w := app.page(nil, "GET", "/sign-up", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.page(nil, "POST", "/sign-up", url.Values{"email": {"new@example.com"}, "password": {"password123"}})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/tasks", w.Header().Get("Location"))
	var session string
	for _, c := range w.Result().Cookies() {
		if c.Name == app.cfg.CookieName {
			session = c.Value
		}
	}
	require.NotEmpty(t, session)

	w = app.page(&signedIn{token: session}, "GET", "/tasks", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.page(nil, "POST", "/sign-in", url.Values{"email": {"new@example.com"}, "password": {"nope-nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Incorrect email or password")

	w = app.page(&signedIn{token: session}, "POST", "/sign-out", url.Values{})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	w = app.page(&signedIn{token: session}, "GET", "/tasks", nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestAccountPage(t *testing.T) {
	app := newTestApp(t, nil)
	ada := app.signUp(t, "ada@example.com")
	app.signUp(t, "bob@example.com")

	w := app.page(&ada, "GET", "/account", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ada@example.com")

	w = app.page(&ada, "POST", "/account", url.Values{"name": {"Ada L."}, "email": {"bob@example.com"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Email is already in use")

	w = app.page(&ada, "POST", "/account", url.Values{"name": {"Ada L."}, "email": {"Ada@Lovelace.dev"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Account updated")
	assert.Contains(t, w.Body.String(), "ada@lovelace.dev")
}

func TestViewsForget(t *testing.T) {
	store := cache.NewMemoryCache()
	defer store.Close()
	views := NewViews(store, time.Minute, logger.Discard())

	session := &auth.Session{}
	fetch := optimistic.FetcherFunc(func(context.Context) ([]models.Task, error) {
		return []models.Task{{Title: "seeded"}}, nil
	})
	d, seeded, err := views.Open(context.Background(), session, "list:a", nil, fetch)
	require.NoError(t, err)
	assert.True(t, seeded)
	require.Len(t, d.List().Entries(), 1)

	again, seeded, err := views.Open(context.Background(), session, "list:a", nil, fetch)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Same(t, d, again)

	_, _, err = views.Open(context.Background(), session, "task:b", nil, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, views.Forget(session))
	assert.Equal(t, 0, views.Len())
}

func TestViewsOpenSeedsBeforePublishing(t *testing.T) {
	store := cache.NewMemoryCache()
	defer store.Close()
	views := NewViews(store, time.Minute, logger.Discard())
	session := &auth.Session{}

	var mu sync.Mutex
	fetches := 0
	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := optimistic.FetcherFunc(func(context.Context) ([]models.Task, error) {
		mu.Lock()
		fetches++
		first := fetches == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		return []models.Task{{Title: "seeded"}}, nil
	})

	var wg sync.WaitGroup
	got := make([]*optimistic.Dispatcher, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		d, _, err := views.Open(context.Background(), session, "list:a", nil, fetch)
		assert.NoError(t, err)
		got[0] = d
	}()
	<-entered

	assert.Equal(t, 0, views.Len())

	wg.Add(1)
	go func() {
		defer wg.Done()
		d, _, err := views.Open(context.Background(), session, "list:a", nil, fetch)
		assert.NoError(t, err)
		got[1] = d
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NotNil(t, got[0])
	assert.Same(t, got[0], got[1])
	assert.Len(t, got[1].List().Entries(), 1)
	mu.Lock()
	assert.Equal(t, 1, fetches)
	mu.Unlock()
}

func TestStatusFor(t *testing.T) {
	verr := validation.NewErrors()
	verr.Add("title", "Required")

	cases := []struct {
		err  error
		want int
	}{
		{verr, http.StatusBadRequest},
		{services.ErrUnauthorized, http.StatusUnauthorized},
		{services.ErrForbidden, http.StatusForbidden},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{services.ErrEmailTaken, http.StatusConflict},
		{optimistic.ErrMutationInFlight, http.StatusConflict},
		{&services.PersistenceError{Op: "update", Err: context.Canceled}, http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
