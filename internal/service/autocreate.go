package service

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/personpages/internal/db"
	"github.com/personpages/internal/metrics"
	"gorm.io/gorm"
)

// 可选的自动创建策略名称。
const (
	AutoCreateBySlug          = "slug"
	AutoCreateByDirectoryFlag = "directory"
	AutoCreateDisabled        = "none"
)

var (
	// ErrAutoCreatePolicyRegistered 表示已经注册过一个自动创建策略。
	ErrAutoCreatePolicyRegistered = errors.New("auto-create policy already registered")
	// ErrUnknownAutoCreatePolicy 表示配置了无法识别的策略名称。
	ErrUnknownAutoCreatePolicy = errors.New("unknown auto-create policy")
)

// AutoCreatePolicy 在人员变更后确保符合条件的人员拥有个人主页。
// 两个回调都在触发变更的事务内同步执行，返回的错误会回滚该变更。
type AutoCreatePolicy interface {
	Name() string
	PersonSaved(tx *gorm.DB, person *db.Person, source MutationSource) error
	FlagsChanged(tx *gorm.DB, person *db.Person, change FlagChange) error
}

// NewAutoCreatePolicy 按名称构造策略；"none" 或空字符串返回 nil。
func NewAutoCreatePolicy(name string, pages *PageService) (AutoCreatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case AutoCreateBySlug:
		return &SlugPolicy{pages: pages}, nil
	case AutoCreateByDirectoryFlag:
		return &DirectoryFlagPolicy{pages: pages}, nil
	case AutoCreateDisabled, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAutoCreatePolicy, name)
	}
}

// SlugPolicy 在人员保存且带有 slug 时创建主页，并保证人员带有 directory 标记。
type SlugPolicy struct {
	pages *PageService
}

// Name 返回策略名称。
func (p *SlugPolicy) Name() string {
	return AutoCreateBySlug
}

// PersonSaved 处理人员保存事件。
func (p *SlugPolicy) PersonSaved(tx *gorm.DB, person *db.Person, source MutationSource) error {
	if source == SourceBulkLoad {
		return nil
	}
	if person.SlugValue() == "" {
		return nil
	}

	page, created, err := p.pages.GetOrCreate(tx, person.ID)
	if err != nil {
		return err
	}
	if created {
		metrics.PagesAutoCreated.WithLabelValues(p.Name()).Inc()
		log.Printf("[autocreate] %s: created page %d for person %d", p.Name(), page.ID, person.ID)
	}

	return addFlag(tx, person, db.FlagDirectory)
}

// FlagsChanged 该策略不关心标记变更。
func (p *SlugPolicy) FlagsChanged(*gorm.DB, *db.Person, FlagChange) error {
	return nil
}

// DirectoryFlagPolicy 在人员同时具备 slug 与 directory 标记时创建主页。
type DirectoryFlagPolicy struct {
	pages *PageService
}

// Name 返回策略名称。
func (p *DirectoryFlagPolicy) Name() string {
	return AutoCreateByDirectoryFlag
}

// PersonSaved 该策略只响应标记变更。
func (p *DirectoryFlagPolicy) PersonSaved(*gorm.DB, *db.Person, MutationSource) error {
	return nil
}

// FlagsChanged 仅处理人员一侧、变更提交之后的通知。
func (p *DirectoryFlagPolicy) FlagsChanged(tx *gorm.DB, person *db.Person, change FlagChange) error {
	if change.Reverse || !change.Action.IsPost() {
		return nil
	}
	if change.Source == SourceBulkLoad {
		return nil
	}
	if person.SlugValue() == "" || !person.HasFlag(db.FlagDirectory) {
		return nil
	}

	page, created, err := p.pages.GetOrCreate(tx, person.ID)
	if err != nil {
		return err
	}
	if created {
		metrics.PagesAutoCreated.WithLabelValues(p.Name()).Inc()
		log.Printf("[autocreate] %s: created page %d for person %d", p.Name(), page.ID, person.ID)
	}
	return nil
}
