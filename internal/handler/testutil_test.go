package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/personpages/internal/config"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/service"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type stubHTMLRender struct {
	last *stubHTMLInstance
}

type stubHTMLInstance struct {
	name string
	data interface{}
}

func (r *stubHTMLRender) Instance(name string, data interface{}) render.Render {
	instance := &stubHTMLInstance{name: name, data: data}
	r.last = instance
	return instance
}

func (r *stubHTMLInstance) Render(http.ResponseWriter) error {
	return nil
}

func (r *stubHTMLInstance) WriteContentType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}

// payload 返回最近一次渲染的模板数据。
func (r *stubHTMLRender) payload(t *testing.T) gin.H {
	t.Helper()
	if r.last == nil {
		t.Fatal("expected a template to be rendered")
	}
	data, ok := r.last.data.(gin.H)
	if !ok {
		t.Fatalf("expected gin.H payload, got %T", r.last.data)
	}
	return data
}

type handlerEnv struct {
	api    *API
	db     *gorm.DB
	render *stubHTMLRender
	engine *gin.Engine
	actor  *service.Actor
}

func newHandlerEnv(t *testing.T, detector string) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open("file:handler-"+name+"?mode=memory&cache=shared", &gorm.Config{
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
		UploadDir:        t.TempDir(),
		UploadURLPath:    "/static/uploads",
		SiteBaseURL:      "https://people.example.edu",
		SiteName:         "Math People",
		AutoCreatePolicy: service.AutoCreateBySlug,
		MugshotDetector:  detector,
	}
	api, err := NewAPI(gdb, cfg, config.DefaultSettings())
	if err != nil {
		t.Fatalf("NewAPI returned error: %v", err)
	}

	env := &handlerEnv{api: api, db: gdb, render: &stubHTMLRender{}}
	engine := gin.New()
	engine.HTMLRender = env.render
	engine.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test-secret"))))
	engine.Use(func(c *gin.Context) {
		if env.actor != nil {
			c.Set(actorContextKey, env.actor)
		}
		c.Next()
	})
	env.engine = engine
	return env
}

func (e *handlerEnv) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// seedPerson 直接写入人员，不经过自动创建策略。
func seedPerson(t *testing.T, gdb *gorm.DB, cn, username, slug string, flags ...string) *db.Person {
	t.Helper()
	person := &db.Person{CN: cn, Username: username, Active: true}
	if slug != "" {
		person.Slug = db.StringPtr(slug)
	}
	if err := gdb.Omit(clause.Associations).Create(person).Error; err != nil {
		t.Fatalf("failed to create person: %v", err)
	}
	for _, flagSlug := range flags {
		flag := db.Flag{Slug: flagSlug}
		if err := gdb.Where(db.Flag{Slug: flagSlug}).FirstOrCreate(&flag).Error; err != nil {
			t.Fatalf("failed to create flag: %v", err)
		}
		if err := gdb.Model(person).Association("Flags").Append(&flag); err != nil {
			t.Fatalf("failed to add flag: %v", err)
		}
	}
	return person
}

// seedPage 创建一个公开主页：简介、一个可见段落、一个隐藏段落与两个文件。
func seedPage(t *testing.T, gdb *gorm.DB, slug string, allowOwnerEdits bool) *db.Page {
	t.Helper()
	person := seedPerson(t, gdb, "Jane Doe", slug, slug, db.FlagDirectory)

	page := db.NewPage(person.ID)
	page.AllowOwnerEdits = allowOwnerEdits
	if err := gdb.Create(&page).Error; err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	records := []interface{}{
		&db.PageInfo{PageID: page.ID, Introduction: "Studies *knots*"},
		&db.PageSection{PageID: page.ID, Active: true, Ordering: 1, Title: "Research", Content: "Topology"},
		&db.PageSection{PageID: page.ID, Active: false, Ordering: 2, Title: "Draft", Content: "hidden"},
		&db.PageFile{PageID: page.ID, Slug: "cv", Description: "Curriculum vitae", TheFile: "personal/2024/01/01/cv.pdf", ShowLink: true},
		&db.PageFile{PageID: page.ID, Slug: "notes", TheFile: "personal/2024/01/01/notes.pdf", ShowLink: false},
	}
	for _, record := range records {
		if err := gdb.Create(record).Error; err != nil {
			t.Fatalf("failed to seed page record: %v", err)
		}
	}
	page.Person = *person
	return &page
}

var (
	adminActor = &service.Actor{Username: "root", IsSuperuser: true}
	ownerActor = &service.Actor{Username: "jdoe"}
	otherActor = &service.Actor{Username: "mallory"}
)
