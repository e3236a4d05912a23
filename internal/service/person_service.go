package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/personpages/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPersonNotFound 表示人员不存在。
	ErrPersonNotFound = errors.New("person not found")
	// ErrFlagNotFound 表示标记不存在。
	ErrFlagNotFound = errors.New("flag not found")
)

// MutationSource 标记人员数据变更的来源，批量导入时自动创建策略不生效。
type MutationSource int

const (
	// SourceInteractive 表示来自页面或接口的单条变更。
	SourceInteractive MutationSource = iota
	// SourceBulkLoad 表示批量导入。
	SourceBulkLoad
)

func (s MutationSource) String() string {
	if s == SourceBulkLoad {
		return "bulk-load"
	}
	return "interactive"
}

// FlagAction 描述人员标记集合的变更阶段。
type FlagAction string

const (
	FlagPreAdd     FlagAction = "pre_add"
	FlagPostAdd    FlagAction = "post_add"
	FlagPreRemove  FlagAction = "pre_remove"
	FlagPostRemove FlagAction = "post_remove"
)

// IsPost 判断是否为变更提交之后的阶段。
func (a FlagAction) IsPost() bool {
	return strings.HasPrefix(string(a), "post_")
}

// FlagChange 描述一次标记集合变更。
// Reverse 为 true 表示变更从标记一侧发起（例如给一批人员打标记）。
type FlagChange struct {
	Action  FlagAction
	Reverse bool
	Source  MutationSource
	Flag    string
}

// PersonService 是人员目录的最小实现：保存人员、维护标记，并在变更后调用自动创建策略。
type PersonService struct {
	db     *gorm.DB
	policy AutoCreatePolicy
}

// NewPersonService 构造 PersonService，默认不注册任何自动创建策略。
func NewPersonService(gdb *gorm.DB) *PersonService {
	return &PersonService{db: gdb}
}

// RegisterAutoCreatePolicy 注册自动创建策略，同一时间只允许一个。
func (s *PersonService) RegisterAutoCreatePolicy(policy AutoCreatePolicy) error {
	if policy == nil {
		return nil
	}
	if s.policy != nil {
		return fmt.Errorf("%w: %s already registered, refusing %s", ErrAutoCreatePolicyRegistered, s.policy.Name(), policy.Name())
	}
	s.policy = policy
	return nil
}

// Policy 返回当前注册的自动创建策略。
func (s *PersonService) Policy() AutoCreatePolicy {
	return s.policy
}

// Get 根据主键获取人员及其标记。
func (s *PersonService) Get(id uint) (*db.Person, error) {
	var person db.Person
	if err := s.db.Preload("Flags").First(&person, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonNotFound
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return &person, nil
}

// List 返回全部人员，按名称排序。
func (s *PersonService) List() ([]db.Person, error) {
	var people []db.Person
	if err := s.db.Preload("Flags").Order("cn ASC, id ASC").Find(&people).Error; err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	return people, nil
}

// Save 新建或更新人员，并在同一事务内触发自动创建策略。
// 策略返回的错误会回滚整个保存操作。
func (s *PersonService) Save(person *db.Person, source MutationSource) error {
	if person == nil {
		return errors.New("person is required")
	}
	if person.Slug != nil && strings.TrimSpace(*person.Slug) == "" {
		person.Slug = nil
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(person).Error; err != nil {
			return fmt.Errorf("save person: %w", err)
		}
		if err := loadFlags(tx, person); err != nil {
			return err
		}
		if s.policy == nil {
			return nil
		}
		return s.policy.PersonSaved(tx, person, source)
	})
}

// AddFlag 为人员添加标记，前后两个阶段都会通知自动创建策略。
func (s *PersonService) AddFlag(personID uint, flagSlug string, source MutationSource) error {
	return s.changeFlag(personID, flagSlug, source, true)
}

// RemoveFlag 移除人员的标记。
func (s *PersonService) RemoveFlag(personID uint, flagSlug string, source MutationSource) error {
	return s.changeFlag(personID, flagSlug, source, false)
}

func (s *PersonService) changeFlag(personID uint, flagSlug string, source MutationSource, add bool) error {
	pre, post := FlagPreRemove, FlagPostRemove
	if add {
		pre, post = FlagPreAdd, FlagPostAdd
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var person db.Person
		if err := tx.Preload("Flags").First(&person, personID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPersonNotFound
			}
			return fmt.Errorf("load person: %w", err)
		}

		if err := s.notifyFlags(tx, &person, FlagChange{Action: pre, Source: source, Flag: flagSlug}); err != nil {
			return err
		}

		var err error
		switch {
		case add && source == SourceBulkLoad:
			err = ensureFlag(tx, &person, flagSlug)
		case add:
			err = addFlag(tx, &person, flagSlug)
		default:
			err = removeFlag(tx, &person, flagSlug)
		}
		if err != nil {
			return err
		}

		return s.notifyFlags(tx, &person, FlagChange{Action: post, Source: source, Flag: flagSlug})
	})
}

// AssignFlag 从标记一侧给一批人员添加标记，对应的通知带有 Reverse 标识。
func (s *PersonService) AssignFlag(flagSlug string, personIDs []uint, source MutationSource) error {
	if len(personIDs) == 0 {
		return nil
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var people []db.Person
		if err := tx.Preload("Flags").Where("id IN ?", personIDs).Find(&people).Error; err != nil {
			return fmt.Errorf("load people: %w", err)
		}
		for i := range people {
			person := &people[i]
			add := addFlag
			if source == SourceBulkLoad {
				add = ensureFlag
			}
			if err := add(tx, person, flagSlug); err != nil {
				return err
			}
			change := FlagChange{Action: FlagPostAdd, Reverse: true, Source: source, Flag: flagSlug}
			if err := s.notifyFlags(tx, person, change); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 删除人员，主页及其简介、段落、文件在同一事务内一并删除。
func (s *PersonService) Delete(personID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var person db.Person
		if err := tx.First(&person, personID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPersonNotFound
			}
			return fmt.Errorf("load person: %w", err)
		}

		var pageIDs []uint
		if err := tx.Model(&db.Page{}).Where("person_id = ?", personID).Pluck("id", &pageIDs).Error; err != nil {
			return fmt.Errorf("load person pages: %w", err)
		}
		if len(pageIDs) > 0 {
			for _, model := range []interface{}{&db.PageFile{}, &db.PageSection{}, &db.PageInfo{}} {
				if err := tx.Where("page_id IN ?", pageIDs).Delete(model).Error; err != nil {
					return fmt.Errorf("delete page children: %w", err)
				}
			}
			if err := tx.Where("id IN ?", pageIDs).Delete(&db.Page{}).Error; err != nil {
				return fmt.Errorf("delete person page: %w", err)
			}
		}

		if err := tx.Where("person_id = ?", personID).Delete(&db.DirectoryEntry{}).Error; err != nil {
			return fmt.Errorf("delete directory entries: %w", err)
		}
		if err := tx.Model(&person).Association("Flags").Clear(); err != nil {
			return fmt.Errorf("clear person flags: %w", err)
		}
		if err := tx.Delete(&person).Error; err != nil {
			return fmt.Errorf("delete person: %w", err)
		}
		return nil
	})
}

func (s *PersonService) notifyFlags(tx *gorm.DB, person *db.Person, change FlagChange) error {
	if s.policy == nil {
		return nil
	}
	return s.policy.FlagsChanged(tx, person, change)
}

// addFlag 仅写入关联，不触发策略通知；标记必须已存在。
func addFlag(tx *gorm.DB, person *db.Person, flagSlug string) error {
	return appendFlag(tx, person, flagSlug, false)
}

// ensureFlag 与 addFlag 相同，但标记不存在时先创建，只用于批量导入。
func ensureFlag(tx *gorm.DB, person *db.Person, flagSlug string) error {
	return appendFlag(tx, person, flagSlug, true)
}

func appendFlag(tx *gorm.DB, person *db.Person, flagSlug string, create bool) error {
	if person.HasFlag(flagSlug) {
		return nil
	}

	flag := db.Flag{Slug: flagSlug}
	var err error
	if create {
		err = tx.Where(db.Flag{Slug: flagSlug}).FirstOrCreate(&flag).Error
	} else {
		err = tx.Where("slug = ?", flagSlug).First(&flag).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFlagNotFound
		}
		return fmt.Errorf("load flag %s: %w", flagSlug, err)
	}
	if err := tx.Model(person).Association("Flags").Append(&flag); err != nil {
		return fmt.Errorf("add flag %s: %w", flagSlug, err)
	}
	return loadFlags(tx, person)
}

func removeFlag(tx *gorm.DB, person *db.Person, flagSlug string) error {
	var flag db.Flag
	if err := tx.Where("slug = ?", flagSlug).First(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFlagNotFound
		}
		return fmt.Errorf("load flag %s: %w", flagSlug, err)
	}
	if err := tx.Model(person).Association("Flags").Delete(&flag); err != nil {
		return fmt.Errorf("remove flag %s: %w", flagSlug, err)
	}
	return loadFlags(tx, person)
}

func loadFlags(tx *gorm.DB, person *db.Person) error {
	var flags []db.Flag
	if err := tx.Model(person).Association("Flags").Find(&flags); err != nil {
		return fmt.Errorf("load person flags: %w", err)
	}
	person.Flags = flags
	return nil
}
