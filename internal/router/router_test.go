package router

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/config"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/handler"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type routerEnv struct {
	engine    *gin.Engine
	db        *gorm.DB
	uploadDir string
}

func newRouterEnv(t *testing.T, detector string) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open("file:router-"+name+"?mode=memory&cache=shared", &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	cfg := config.AppConfig{
		SessionSecret:    "test-secret",
		UploadDir:        t.TempDir(),
		UploadURLPath:    "/static/uploads",
		SiteBaseURL:      "https://people.example.edu",
		SiteName:         "Math People",
		AutoCreatePolicy: "slug",
		MugshotDetector:  detector,
	}
	api, err := handler.NewAPI(gdb, cfg, config.DefaultSettings())
	if err != nil {
		t.Fatalf("NewAPI returned error: %v", err)
	}
	engine, err := SetupRouter(cfg, api)
	if err != nil {
		t.Fatalf("SetupRouter returned error: %v", err)
	}
	return &routerEnv{engine: engine, db: gdb, uploadDir: cfg.UploadDir}
}

func (e *routerEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// login 走真实登录流程，返回会话 cookie。
func (e *routerEnv) login(t *testing.T, username, password string) []*http.Cookie {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/accounts/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected login redirect, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie after login")
	}
	return cookies
}

func (e *routerEnv) seedPage(t *testing.T) {
	t.Helper()
	person := &db.Person{CN: "Jane Doe", Username: "jdoe", Slug: db.StringPtr("jdoe"), Active: true}
	if err := e.db.Create(person).Error; err != nil {
		t.Fatalf("failed to create person: %v", err)
	}
	var flag db.Flag
	e.db.Where("slug = ?", db.FlagDirectory).First(&flag)
	if err := e.db.Model(person).Association("Flags").Append(&flag); err != nil {
		t.Fatalf("failed to add flag: %v", err)
	}
	page := db.NewPage(person.ID)
	if err := e.db.Create(&page).Error; err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	e.db.Create(&db.PageInfo{PageID: page.ID, Introduction: "Studies knots"})
	e.db.Create(&db.PageSection{PageID: page.ID, Active: true, Ordering: 1, Title: "Research", Content: "Topology"})
	e.db.Create(&db.PageSection{PageID: page.ID, Active: false, Ordering: 2, Title: "Draft", Content: "unfinished"})
}

func TestSetupRouterPublicPages(t *testing.T) {
	env := newRouterEnv(t, "")
	env.seedPage(t)

	tests := []struct {
		name    string
		path    string
		code    int
		expect  string
		exclude string
	}{
		{name: "list", path: "/people/", code: http.StatusOK, expect: "Jane Doe"},
		{name: "detail", path: "/people/jdoe/", code: http.StatusOK, expect: "Research", exclude: "unfinished"},
		{name: "missing", path: "/people/nobody/", code: http.StatusNotFound},
		{name: "calendar", path: "/people/jdoe/calendar", code: http.StatusOK, expect: "BEGIN:VCALENDAR"},
		{name: "sitemap", path: "/sitemap.xml", code: http.StatusOK, expect: "https://people.example.edu/people/jdoe/"},
		{name: "ping", path: "/ping", code: http.StatusOK, expect: "pong"},
		{name: "metrics", path: "/metrics", code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.get(tt.path)
			if w.Code != tt.code {
				t.Fatalf("expected status %d, got %d", tt.code, w.Code)
			}
			body := w.Body.String()
			if tt.expect != "" && !strings.Contains(body, tt.expect) {
				t.Fatalf("expected body to contain %q, got %s", tt.expect, body)
			}
			if tt.exclude != "" && strings.Contains(body, tt.exclude) {
				t.Fatalf("expected body to omit %q", tt.exclude)
			}
		})
	}
}

func TestSetupRouterDetailResolvesFileReferences(t *testing.T) {
	env := newRouterEnv(t, "")
	env.seedPage(t)

	var page db.Page
	env.db.First(&page)
	env.db.Create(&db.PageFile{PageID: page.ID, Slug: "cv", TheFile: "personal/2024/01/01/cv.pdf", ShowLink: false})
	env.db.Model(&db.PageSection{}).Where("title = ?", "Research").
		Update("content", `See my [CV]({{ personalfile_url "jdoe" "CV" }}) and [old]({{ personalfile_url "jdoe" "gone" }}).`)

	w := env.get("/people/jdoe/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `href="/static/uploads/personal/2024/01/01/cv.pdf"`) {
		t.Fatalf("expected resolved file link, got %s", body)
	}
	if strings.Contains(body, "personalfile_url") {
		t.Fatalf("expected template actions to be evaluated, got %s", body)
	}
}

func TestSetupRouterRequiresLogin(t *testing.T) {
	env := newRouterEnv(t, "")
	env.seedPage(t)

	for _, path := range []string{"/people/jdoe/update", "/admin/"} {
		w := env.get(path)
		if w.Code != http.StatusFound {
			t.Fatalf("expected redirect for %s, got %d", path, w.Code)
		}
		want := "/accounts/login?next=" + url.QueryEscape(path)
		if location := w.Header().Get("Location"); location != want {
			t.Fatalf("expected redirect to %q, got %q", want, location)
		}
	}
}

func TestSetupRouterLoginFlow(t *testing.T) {
	env := newRouterEnv(t, "")
	env.seedPage(t)
	if err := db.EnsureUser(env.db, "root", "root-secret"); err != nil {
		t.Fatalf("failed to create superuser: %v", err)
	}
	cookies := env.login(t, "root", "root-secret")

	w := env.get("/people/jdoe/update", cookies...)
	if w.Code != http.StatusOK {
		t.Fatalf("expected editor, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `name="sections-TOTAL_FORMS"`) {
		t.Fatal("expected the sections formset in the editor")
	}

	if w := env.get("/admin/", cookies...); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Jane Doe") {
		t.Fatalf("expected dashboard, got %d", w.Code)
	}
}

func TestSetupRouterForbiddenPage(t *testing.T) {
	env := newRouterEnv(t, "")
	env.seedPage(t)
	if err := db.EnsureUser(env.db, "mallory", "mallory-secret"); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	env.db.Model(&db.User{}).Where("username = ?", "mallory").Update("is_superuser", false)
	cookies := env.login(t, "mallory", "mallory-secret")

	w := env.get("/people/jdoe/update", cookies...)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "You do not have permission to edit this page.") {
		t.Fatalf("expected rendered 403 page, got %s", w.Body.String())
	}
}

func TestSetupRouterMugshotRoutesNeedDetector(t *testing.T) {
	env := newRouterEnv(t, "")
	env.seedPage(t)

	if w := env.get("/people/jdoe/mugshot-preview"); w.Code != http.StatusNotFound {
		t.Fatalf("expected mugshot routes to be absent, got %d", w.Code)
	}

	withDetector := newRouterEnv(t, "portrait")
	withDetector.seedPage(t)
	if w := withDetector.get("/people/jdoe/mugshot-preview"); w.Code != http.StatusFound {
		t.Fatalf("expected mugshot routes to require login, got %d", w.Code)
	}
}

func TestSetupRouterServesUploads(t *testing.T) {
	env := newRouterEnv(t, "")

	dir := filepath.Join(env.uploadDir, "personal", "2024", "01", "01")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create upload dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cv.txt"), []byte("hello uploads"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	w := env.get("/static/uploads/personal/2024/01/01/cv.txt")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.String() != "hello uploads" {
		t.Fatalf("unexpected body, got %q", w.Body.String())
	}
}
