package handler

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/personpages/internal/db"
	"golang.org/x/crypto/bcrypt"
)

func registerAdminRoutes(env *handlerEnv) {
	env.engine.GET("/accounts/login", env.api.ShowLoginPage)
	env.engine.POST("/accounts/login", env.api.Login)
	env.engine.GET("/accounts/logout", env.api.Logout)
	env.engine.GET("/people/:slug/update", env.api.LoginRequired(), env.api.ShowPageEditor)

	admin := env.engine.Group("/admin", env.api.LoginRequired(), env.api.AdminRequired())
	admin.GET("/", env.api.ShowDashboard)
	admin.GET("/people/:id/page", env.api.ShowPersonPageForm)
	admin.POST("/people/:id/page", env.api.SavePersonPageForm)
	admin.PUT("/api/people/:id", env.api.UpdatePerson)
	admin.POST("/api/people/:id/flags/:flag", env.api.AddPersonFlag)
	admin.DELETE("/api/people/:id/flags/:flag", env.api.RemovePersonFlag)
}

func personPath(person *db.Person, suffix string) string {
	return "/admin/people/" + strconv.FormatUint(uint64(person.ID), 10) + suffix
}

func TestLoginRequiredRedirectsAnonymous(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	seedPage(t, env.db, "jdoe", true)

	w := env.do(http.MethodGet, "/people/jdoe/update", nil, "")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}
	want := "/accounts/login?next=" + url.QueryEscape("/people/jdoe/update")
	if location := w.Header().Get("Location"); location != want {
		t.Fatalf("expected redirect to %q, got %q", want, location)
	}
}

func TestLogin(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)

	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	env.db.Create(&db.User{Username: "jdoe", Password: string(hashed)})

	tests := []struct {
		name     string
		password string
		next     string
		want     int
		location string
	}{
		{name: "success", password: "s3cret", next: "/people/jdoe/update", want: http.StatusFound, location: "/people/jdoe/update"},
		{name: "external next", password: "s3cret", next: "https://evil.example.com/", want: http.StatusFound, location: "/people/"},
		{name: "wrong password", password: "nope", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"username": {"jdoe"}, "password": {tt.password}, "next": {tt.next}}
			w := env.do(http.MethodPost, "/accounts/login", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, w.Code)
			}
			if tt.location != "" {
				if location := w.Header().Get("Location"); location != tt.location {
					t.Fatalf("expected redirect to %q, got %q", tt.location, location)
				}
				if w.Header().Get("Set-Cookie") == "" {
					t.Fatal("expected a session cookie")
				}
				return
			}
			if env.render.last.name != "login.html" || env.render.payload(t)["error"] == nil {
				t.Fatalf("expected login form with error, got %s", env.render.last.name)
			}
		})
	}
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "/people/jdoe/update", want: "/people/jdoe/update"},
		{input: "", want: "/fallback"},
		{input: "//evil.example.com", want: "/fallback"},
		{input: "https://evil.example.com", want: "/fallback"},
		{input: "/\\evil.example.com", want: "/fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := safeNext(tt.input, "/fallback"); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAdminRequired(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	seedPage(t, env.db, "jdoe", false)

	env.actor = otherActor
	w := env.do(http.MethodGet, "/admin/", nil, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}

	env.actor = adminActor
	w = env.do(http.MethodGet, "/admin/", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	rows, ok := env.render.payload(t)["people"].([]adminPersonRow)
	if !ok || len(rows) != 1 || rows[0].PageURL != "/people/jdoe/" {
		t.Fatalf("unexpected dashboard rows %#v", env.render.payload(t)["people"])
	}
}

func TestForbiddenUsesTemplateWhenLoaded(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.api.UseTemplates(template.Must(template.New("403.html").Parse("{{ .test_fail_msg }}")))
	env.actor = otherActor

	w := env.do(http.MethodGet, "/admin/", nil, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
	if env.render.last == nil || env.render.last.name != "403.html" {
		t.Fatal("expected 403.html to be rendered")
	}
	if env.render.payload(t)["test_fail_msg"] != "You do not have permission to access this page." {
		t.Fatalf("unexpected message %v", env.render.payload(t)["test_fail_msg"])
	}
}

func TestPersonPageFormCreatesPage(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.actor = adminActor
	person := seedPerson(t, env.db, "Ada Lovelace", "ada", "")

	w := env.do(http.MethodGet, personPath(person, "/page"), nil, "")
	if w.Code != http.StatusOK || env.render.last.name != "person_page_admin.html" {
		t.Fatalf("expected sub-form, got %d %v", w.Code, env.render.last)
	}

	form := url.Values{"create": {"on"}, "active": {"on"}}
	w = env.do(http.MethodPost, personPath(person, "/page"), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}

	var page db.Page
	if err := env.db.Preload("Person.Flags").Where("person_id = ?", person.ID).First(&page).Error; err != nil {
		t.Fatalf("expected page to be created: %v", err)
	}
	if !page.Active || page.AllowOwnerEdits {
		t.Fatalf("unexpected page flags %+v", page)
	}
	if page.Person.SlugValue() != "ada-lovelace" || !page.Person.HasFlag(db.FlagDirectory) {
		t.Fatalf("expected derived slug and directory flag, got %q %+v", page.Person.SlugValue(), page.Person.Flags)
	}
}

func TestPersonPageFormCreatesActivePageRegardlessOfCheckbox(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.actor = adminActor
	person := seedPerson(t, env.db, "Ada Lovelace", "ada", "")

	form := url.Values{"create": {"on"}, "allow_owner_edits": {"on"}}
	w := env.do(http.MethodPost, personPath(person, "/page"), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}

	var page db.Page
	if err := env.db.Where("person_id = ?", person.ID).First(&page).Error; err != nil {
		t.Fatalf("expected page to be created: %v", err)
	}
	if !page.Active || !page.AllowOwnerEdits {
		t.Fatalf("expected a new active page with owner edits, got %+v", page)
	}

	// 已有主页时 active 按表单保存
	form = url.Values{"allow_owner_edits": {"on"}}
	w = env.do(http.MethodPost, personPath(person, "/page"), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}
	env.db.First(&page, page.ID)
	if page.Active {
		t.Fatal("expected existing page to be deactivated")
	}
}

func TestPersonPageFormWithoutCreateWritesNothing(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.actor = adminActor
	person := seedPerson(t, env.db, "Ada Lovelace", "ada", "")

	form := url.Values{"active": {"on"}}
	w := env.do(http.MethodPost, personPath(person, "/page"), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}

	var count int64
	env.db.Model(&db.Page{}).Where("person_id = ?", person.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected no page, got %d", count)
	}
}

func TestPersonPageFormUpdatesExistingPage(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.actor = adminActor
	page := seedPage(t, env.db, "jdoe", false)

	form := url.Values{"allow_owner_edits": {"on"}}
	w := env.do(http.MethodPost, personPath(&page.Person, "/page"), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}

	var reloaded db.Page
	env.db.First(&reloaded, page.ID)
	if reloaded.Active || !reloaded.AllowOwnerEdits {
		t.Fatalf("expected form values to be copied, got %+v", reloaded)
	}
}

func TestPersonPageFormUnknownPerson(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.actor = adminActor

	for _, path := range []string{"/admin/people/999/page", "/admin/people/abc/page"} {
		if w := env.do(http.MethodGet, path, nil, ""); w.Code != http.StatusNotFound {
			t.Fatalf("expected status 404 for %s, got %d", path, w.Code)
		}
	}
}

func TestUpdatePersonRunsAutoCreatePolicy(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.actor = adminActor
	person := seedPerson(t, env.db, "Ada Lovelace", "ada", "")

	w := env.do(http.MethodPut, "/admin/api/people/"+strconv.FormatUint(uint64(person.ID), 10), strings.NewReader(`{"slug":"ada"}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Person struct {
			Slug  string          `json:"slug"`
			Flags []string        `json:"flags"`
			Page  json.RawMessage `json:"page"`
		} `json:"person"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Person.Slug != "ada" || string(resp.Person.Page) == "null" {
		t.Fatalf("expected slug and auto-created page, got %s", w.Body.String())
	}
	if len(resp.Person.Flags) != 1 || resp.Person.Flags[0] != db.FlagDirectory {
		t.Fatalf("expected directory flag, got %v", resp.Person.Flags)
	}

	w = env.do(http.MethodPut, "/admin/api/people/"+strconv.FormatUint(uint64(person.ID), 10), strings.NewReader(`{"slug":`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad json, got %d", w.Code)
	}
}

func TestChangePersonFlag(t *testing.T) {
	env := newHandlerEnv(t, "")
	registerAdminRoutes(env)
	env.actor = adminActor
	person := seedPerson(t, env.db, "Ada Lovelace", "ada", "ada")
	id := strconv.FormatUint(uint64(person.ID), 10)
	if err := env.db.Create(&db.Flag{Slug: "faculty", VerboseName: "Faculty"}).Error; err != nil {
		t.Fatalf("failed to create flag: %v", err)
	}

	if w := env.do(http.MethodPost, "/admin/api/people/"+id+"/flags/faculty", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var reloaded db.Person
	env.db.Preload("Flags").First(&reloaded, person.ID)
	if !reloaded.HasFlag("faculty") {
		t.Fatalf("expected faculty flag, got %+v", reloaded.Flags)
	}

	if w := env.do(http.MethodDelete, "/admin/api/people/"+id+"/flags/faculty", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w := env.do(http.MethodDelete, "/admin/api/people/"+id+"/flags/unknown", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown flag, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/admin/api/people/"+id+"/flags/facutly", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 when adding unknown flag, got %d", w.Code)
	}
	var count int64
	env.db.Model(&db.Flag{}).Where("slug = ?", "facutly").Count(&count)
	if count != 0 {
		t.Fatalf("expected unknown flag not to be created, got %d rows", count)
	}
	if w := env.do(http.MethodPost, "/admin/api/people/999/flags/faculty", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown person, got %d", w.Code)
	}
}
