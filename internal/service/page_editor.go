package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/metrics"
	"gorm.io/gorm"
)

// 编辑表单中的三个集合。
const (
	CollectionInfo     = "info"
	CollectionSections = "sections"
	CollectionFiles    = "files"
)

// FormErrorKey 是不属于任何集合的整表错误所用的键。
const FormErrorKey = "__all__"

// ErrPageEditForbidden 表示当前用户无权编辑该主页。
var ErrPageEditForbidden = errors.New("not allowed to edit this person page")

var pageFileSlugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

// Upload 表示一次提交中携带的上传文件。
type Upload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// UploadFromHeader 包装 multipart 上传。
func UploadFromHeader(fh *multipart.FileHeader) *Upload {
	if fh == nil {
		return nil
	}
	return &Upload{
		Filename: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// UploadFromBytes 用内存数据构造上传文件。
func UploadFromBytes(filename string, data []byte) *Upload {
	return &Upload{
		Filename: filename,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// InfoRow 是简介集合中的一行，最多一行。
type InfoRow struct {
	ID           uint
	Introduction string `form:"introduction"`
	Photo        *Upload
	ClearPhoto   bool
	CurrentPhoto string
}

func (r InfoRow) blank() bool {
	return r.ID == 0 && strings.TrimSpace(r.Introduction) == "" && r.Photo == nil
}

// SectionRow 是段落集合中的一行。
type SectionRow struct {
	ID       uint
	Active   bool
	Ordering int    `form:"ordering" validate:"min=0,max=32767"`
	Title    string `form:"title" validate:"required,max=250"`
	Content  string `form:"content" validate:"required"`
	Delete   bool
}

func (r SectionRow) blank() bool {
	return r.ID == 0 && strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Content) == ""
}

// FileRow 是文件集合中的一行。
type FileRow struct {
	ID          uint
	Slug        string `form:"slug" validate:"required,max=50,pageslug"`
	Description string `form:"description" validate:"max=250"`
	ShowLink    bool
	File        *Upload
	CurrentFile string
	Delete      bool
}

func (r FileRow) blank() bool {
	return r.ID == 0 && strings.TrimSpace(r.Slug) == "" && strings.TrimSpace(r.Description) == "" && r.File == nil
}

// EditSubmission 是一次编辑提交绑定后的数据。
type EditSubmission struct {
	Info     []InfoRow
	Sections []SectionRow
	Files    []FileRow
}

// EditState 是编辑页面需要的全部数据：已有记录加上空白行，以及校验错误。
type EditState struct {
	Page     *db.Page
	Info     []InfoRow
	Sections []SectionRow
	Files    []FileRow
	Errors   *ValidationError
}

// FieldError 定位到某个集合某一行的字段错误；Field 为空表示整行错误。
type FieldError struct {
	Collection string
	Row        int
	Field      string
	Message    string
}

// Key 返回与表单字段名一致的键，例如 sections-0-title。
func (e FieldError) Key() string {
	if e.Row < 0 {
		return e.Collection
	}
	field := e.Field
	if field == "" {
		field = "__all__"
	}
	return fmt.Sprintf("%s-%d-%s", e.Collection, e.Row, field)
}

// ValidationError 汇总一次提交中三个集合的全部字段错误。
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "invalid submission"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Key()+": "+field.Message)
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

// Has 判断指定集合是否存在错误。
func (e *ValidationError) Has(collection string) bool {
	if e == nil {
		return false
	}
	for _, field := range e.Fields {
		if field.Collection == collection {
			return true
		}
	}
	return false
}

// Map 以表单字段名为键返回错误信息。
func (e *ValidationError) Map() map[string][]string {
	result := map[string][]string{}
	if e == nil {
		return result
	}
	for _, field := range e.Fields {
		result[field.Key()] = append(result[field.Key()], field.Message)
	}
	return result
}

func (e *ValidationError) add(collection string, row int, field, message string) {
	e.Fields = append(e.Fields, FieldError{Collection: collection, Row: row, Field: field, Message: message})
}

// EditorOptions 控制编辑表单额外空白行的数量。
type EditorOptions struct {
	ExtraSections int
	ExtraFiles    int
}

// DefaultEditorOptions 为段落和文件各提供一行空白。
func DefaultEditorOptions() EditorOptions {
	return EditorOptions{ExtraSections: 1, ExtraFiles: 1}
}

// PageEditor 组织主页编辑：加载编辑状态、整体校验、按 info、sections、files 顺序保存。
type PageEditor struct {
	db       *gorm.DB
	storage  *FileStorage
	validate *validator.Validate
	opts     EditorOptions
}

// NewPageEditor 构造 PageEditor。
func NewPageEditor(gdb *gorm.DB, storage *FileStorage, opts EditorOptions) *PageEditor {
	if opts.ExtraSections < 0 {
		opts.ExtraSections = 0
	}
	if opts.ExtraFiles < 0 {
		opts.ExtraFiles = 0
	}
	return &PageEditor{db: gdb, storage: storage, validate: newRowValidator(), opts: opts}
}

func newRowValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("pageslug", func(fl validator.FieldLevel) bool {
		return pageFileSlugPattern.MatchString(fl.Field().String())
	})
	return v
}

// LoadEditState 按人员 slug 加载主页及三个集合的编辑行。
func (e *PageEditor) LoadEditState(slug string) (*EditState, error) {
	page, err := e.loadPage(slug)
	if err != nil {
		return nil, err
	}
	return e.stateFor(page), nil
}

// SubmitEdit 校验并保存一次编辑提交。
// 任一集合校验失败时不写入任何数据，返回包含全部错误的 *ValidationError。
func (e *PageEditor) SubmitEdit(slug string, actor *Actor, submission EditSubmission) (*EditState, error) {
	page, err := e.loadPage(slug)
	if err != nil {
		return nil, err
	}
	if !CanEditPage(actor, page) {
		metrics.EditSubmissions.WithLabelValues(metrics.OutcomeForbidden).Inc()
		return nil, ErrPageEditForbidden
	}

	cleaned := normalizeSubmission(submission)
	if verr := e.validateSubmission(page, cleaned); verr != nil {
		metrics.EditSubmissions.WithLabelValues(metrics.OutcomeInvalid).Inc()
		state := e.submittedState(page, cleaned)
		state.Errors = verr
		return state, verr
	}

	if err := e.save(page, cleaned); err != nil {
		metrics.EditSubmissions.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	metrics.EditSubmissions.WithLabelValues(metrics.OutcomeSaved).Inc()

	reloaded, err := e.loadPageByID(page.ID)
	if err != nil {
		return nil, err
	}
	return e.stateFor(reloaded), nil
}

func (e *PageEditor) loadPage(slug string) (*db.Page, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, ErrPersonPageNotFound
	}

	var page db.Page
	err := e.preloadAll(e.db.Model(&db.Page{}).Scopes(db.ActivePages)).
		Where("people.slug = ?", trimmed).
		First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonPageNotFound
		}
		return nil, fmt.Errorf("load person page: %w", err)
	}
	return &page, nil
}

func (e *PageEditor) loadPageByID(id uint) (*db.Page, error) {
	var page db.Page
	if err := e.preloadAll(e.db.Model(&db.Page{})).First(&page, id).Error; err != nil {
		return nil, fmt.Errorf("reload person page: %w", err)
	}
	return &page, nil
}

func (e *PageEditor) preloadAll(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Person.Flags").
		Preload("Info").
		Preload("Sections", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("ordering ASC, id ASC")
		}).
		Preload("Files", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("slug ASC, id ASC")
		})
}

func (e *PageEditor) stateFor(page *db.Page) *EditState {
	state := &EditState{Page: page}

	if page.Info != nil {
		state.Info = []InfoRow{{
			ID:           page.Info.ID,
			Introduction: page.Info.Introduction,
			CurrentPhoto: page.Info.Photo,
		}}
	} else {
		state.Info = []InfoRow{{}}
	}

	for _, section := range page.Sections {
		state.Sections = append(state.Sections, SectionRow{
			ID:       section.ID,
			Active:   section.Active,
			Ordering: section.Ordering,
			Title:    section.Title,
			Content:  section.Content,
		})
	}
	for i := 0; i < e.opts.ExtraSections; i++ {
		state.Sections = append(state.Sections, SectionRow{Active: true})
	}

	for _, file := range page.Files {
		state.Files = append(state.Files, FileRow{
			ID:          file.ID,
			Slug:        file.Slug,
			Description: file.Description,
			ShowLink:    file.ShowLink,
			CurrentFile: file.TheFile,
		})
	}
	for i := 0; i < e.opts.ExtraFiles; i++ {
		state.Files = append(state.Files, FileRow{})
	}

	return state
}

// submittedState 保留用户提交的内容以便回显错误。
func (e *PageEditor) submittedState(page *db.Page, submission EditSubmission) *EditState {
	state := &EditState{
		Page:     page,
		Info:     append([]InfoRow(nil), submission.Info...),
		Sections: append([]SectionRow(nil), submission.Sections...),
		Files:    append([]FileRow(nil), submission.Files...),
	}
	if len(state.Info) == 0 {
		state.Info = []InfoRow{{}}
	}
	if page.Info != nil {
		for i := range state.Info {
			if state.Info[i].ID == page.Info.ID {
				state.Info[i].CurrentPhoto = page.Info.Photo
			}
		}
	}
	current := map[uint]string{}
	for _, file := range page.Files {
		current[file.ID] = file.TheFile
	}
	for i := range state.Files {
		if path, ok := current[state.Files[i].ID]; ok {
			state.Files[i].CurrentFile = path
		}
	}
	return state
}

func normalizeSubmission(submission EditSubmission) EditSubmission {
	cleaned := EditSubmission{
		Info:     make([]InfoRow, len(submission.Info)),
		Sections: make([]SectionRow, len(submission.Sections)),
		Files:    make([]FileRow, len(submission.Files)),
	}
	for i, row := range submission.Info {
		row.Introduction = strings.TrimSpace(row.Introduction)
		cleaned.Info[i] = row
	}
	for i, row := range submission.Sections {
		row.Title = strings.TrimSpace(row.Title)
		row.Content = strings.TrimSpace(row.Content)
		cleaned.Sections[i] = row
	}
	for i, row := range submission.Files {
		row.Slug = strings.TrimSpace(row.Slug)
		row.Description = strings.TrimSpace(row.Description)
		cleaned.Files[i] = row
	}
	return cleaned
}

func (e *PageEditor) validateSubmission(page *db.Page, submission EditSubmission) *ValidationError {
	verr := &ValidationError{}

	e.validateInfo(page, submission.Info, verr)
	e.validateSections(page, submission.Sections, verr)
	e.validateFiles(page, submission.Files, verr)

	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

func (e *PageEditor) validateInfo(page *db.Page, rows []InfoRow, verr *ValidationError) {
	used := 0
	for i, row := range rows {
		if row.blank() {
			continue
		}
		used++
		if used > 1 {
			verr.add(CollectionInfo, -1, "", "Please submit at most 1 info form.")
			return
		}
		switch {
		case row.ID == 0 && page.Info != nil:
			verr.add(CollectionInfo, i, "", "Page info for this page already exists.")
		case row.ID != 0 && (page.Info == nil || page.Info.ID != row.ID):
			verr.add(CollectionInfo, i, "id", "Select a valid choice.")
		}
	}
}

func (e *PageEditor) validateSections(page *db.Page, rows []SectionRow, verr *ValidationError) {
	existing := map[uint]bool{}
	for _, section := range page.Sections {
		existing[section.ID] = true
	}

	for i, row := range rows {
		if row.blank() {
			continue
		}
		if row.ID != 0 && !existing[row.ID] {
			verr.add(CollectionSections, i, "id", "Select a valid choice.")
			continue
		}
		if row.Delete {
			continue
		}
		e.validateRow(CollectionSections, i, row, verr)
	}
}

func (e *PageEditor) validateFiles(page *db.Page, rows []FileRow, verr *ValidationError) {
	existing := map[uint]db.PageFile{}
	for _, file := range page.Files {
		existing[file.ID] = file
	}

	submitted := map[uint]bool{}
	for _, row := range rows {
		if row.ID != 0 {
			submitted[row.ID] = true
		}
	}

	// 未出现在提交中的已有文件依旧占用 slug
	taken := map[string]bool{}
	for _, file := range page.Files {
		if !submitted[file.ID] {
			taken[strings.ToLower(file.Slug)] = true
		}
	}

	for i, row := range rows {
		if row.blank() {
			continue
		}
		if row.ID != 0 {
			if _, ok := existing[row.ID]; !ok {
				verr.add(CollectionFiles, i, "id", "Select a valid choice.")
				continue
			}
		}
		if row.Delete {
			continue
		}

		e.validateRow(CollectionFiles, i, row, verr)
		if row.ID == 0 && row.File == nil {
			verr.add(CollectionFiles, i, "the_file", "This field is required.")
		}

		key := strings.ToLower(row.Slug)
		if key == "" {
			continue
		}
		if taken[key] {
			verr.add(CollectionFiles, i, "slug", "Page file with this Page and Slug already exists.")
			continue
		}
		taken[key] = true
	}
}

func (e *PageEditor) validateRow(collection string, index int, row interface{}, verr *ValidationError) {
	err := e.validate.Struct(row)
	if err == nil {
		return
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add(collection, index, "", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.add(collection, index, fe.Field(), validationMessage(fe))
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "pageslug":
		return "Enter a valid slug consisting of letters, numbers, underscores or hyphens."
	default:
		return "Enter a valid value."
	}
}

// storedUploads 记录本次提交新写入的文件，事务失败时清理。
type storedUploads struct {
	storage *FileStorage
	paths   []string
}

func (s *storedUploads) store(upload *Upload) (string, error) {
	src, err := upload.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", upload.Filename, err)
	}
	defer src.Close()

	path, err := s.storage.Save(upload.Filename, src)
	if err != nil {
		return "", err
	}
	s.paths = append(s.paths, path)
	return path, nil
}

func (s *storedUploads) cleanup() {
	for _, path := range s.paths {
		if err := s.storage.Remove(path); err != nil {
			log.Printf("[pages] failed to remove orphaned upload %s: %v", path, err)
		}
	}
}

func (e *PageEditor) save(page *db.Page, submission EditSubmission) error {
	uploads := &storedUploads{storage: e.storage}

	photoPaths := map[int]string{}
	for i, row := range submission.Info {
		if row.blank() || row.Photo == nil {
			continue
		}
		path, err := uploads.store(row.Photo)
		if err != nil {
			uploads.cleanup()
			return err
		}
		photoPaths[i] = path
	}

	filePaths := map[int]string{}
	for i, row := range submission.Files {
		if row.blank() || row.Delete || row.File == nil {
			continue
		}
		path, err := uploads.store(row.File)
		if err != nil {
			uploads.cleanup()
			return err
		}
		filePaths[i] = path
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := saveInfo(tx, page, submission.Info, photoPaths); err != nil {
			return err
		}
		if err := saveSections(tx, page, submission.Sections); err != nil {
			return err
		}
		return saveFiles(tx, page, submission.Files, filePaths)
	})
	if err != nil {
		uploads.cleanup()
		return err
	}
	return nil
}

func saveInfo(tx *gorm.DB, page *db.Page, rows []InfoRow, photos map[int]string) error {
	for i, row := range rows {
		if row.blank() {
			continue
		}

		info := db.PageInfo{PageID: page.ID}
		if row.ID != 0 {
			if err := tx.Where("page_id = ?", page.ID).First(&info, row.ID).Error; err != nil {
				return fmt.Errorf("load page info: %w", err)
			}
		}
		info.Introduction = row.Introduction
		if path, ok := photos[i]; ok {
			info.Photo = path
		} else if row.ClearPhoto {
			info.Photo = ""
		}

		if err := tx.Save(&info).Error; err != nil {
			return fmt.Errorf("save page info: %w", err)
		}
	}
	return nil
}

func saveSections(tx *gorm.DB, page *db.Page, rows []SectionRow) error {
	for _, row := range rows {
		if row.blank() {
			continue
		}

		if row.Delete {
			if row.ID == 0 {
				continue
			}
			if err := tx.Where("id = ? AND page_id = ?", row.ID, page.ID).Delete(&db.PageSection{}).Error; err != nil {
				return fmt.Errorf("delete page section: %w", err)
			}
			continue
		}

		section := db.PageSection{PageID: page.ID}
		if row.ID != 0 {
			if err := tx.Where("page_id = ?", page.ID).First(&section, row.ID).Error; err != nil {
				return fmt.Errorf("load page section: %w", err)
			}
		}
		section.Active = row.Active
		section.Ordering = row.Ordering
		section.Title = row.Title
		section.Content = row.Content

		if err := tx.Save(&section).Error; err != nil {
			return fmt.Errorf("save page section: %w", err)
		}
	}
	return nil
}

func saveFiles(tx *gorm.DB, page *db.Page, rows []FileRow, paths map[int]string) error {
	// 先删除，避免被删除的文件与新 slug 冲突
	for _, row := range rows {
		if row.blank() || !row.Delete || row.ID == 0 {
			continue
		}
		if err := tx.Where("id = ? AND page_id = ?", row.ID, page.ID).Delete(&db.PageFile{}).Error; err != nil {
			return fmt.Errorf("delete page file: %w", err)
		}
	}

	// 改名的文件先挪到临时 slug，互换 slug 时不会撞上唯一索引
	current := map[uint]string{}
	for _, file := range page.Files {
		current[file.ID] = file.Slug
	}
	for _, row := range rows {
		if row.blank() || row.Delete || row.ID == 0 {
			continue
		}
		if old, ok := current[row.ID]; !ok || old == row.Slug {
			continue
		}
		err := tx.Model(&db.PageFile{}).
			Where("id = ? AND page_id = ?", row.ID, page.ID).
			Update("slug", fmt.Sprintf("~renaming-%d", row.ID)).Error
		if err != nil {
			return fmt.Errorf("park page file slug: %w", err)
		}
	}

	for i, row := range rows {
		if row.blank() || row.Delete {
			continue
		}

		file := db.PageFile{PageID: page.ID}
		if row.ID != 0 {
			if err := tx.Where("page_id = ?", page.ID).First(&file, row.ID).Error; err != nil {
				return fmt.Errorf("load page file: %w", err)
			}
		}
		file.Slug = row.Slug
		file.Description = row.Description
		file.ShowLink = row.ShowLink
		if path, ok := paths[i]; ok {
			file.TheFile = path
		}

		if err := tx.Save(&file).Error; err != nil {
			return fmt.Errorf("save page file: %w", err)
		}
	}
	return nil
}
