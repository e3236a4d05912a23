package db

import "gorm.io/gorm"

// PublishedPages 限定为可公开访问的主页：主页与人员均处于激活状态，
// 人员带有 directory 标记且 slug 非空。
func PublishedPages(tx *gorm.DB) *gorm.DB {
	return tx.
		Joins("JOIN people ON people.id = person_pages.person_id").
		Where("person_pages.active = ?", true).
		Where("people.active = ?", true).
		Where("people.slug IS NOT NULL AND people.slug <> ''").
		Where("EXISTS (SELECT 1 FROM person_flags JOIN flags ON flags.id = person_flags.flag_id WHERE person_flags.person_id = people.id AND flags.slug = ?)", FlagDirectory)
}

// ActivePages 仅要求主页本身处于激活状态。
func ActivePages(tx *gorm.DB) *gorm.DB {
	return tx.
		Joins("JOIN people ON people.id = person_pages.person_id").
		Where("person_pages.active = ?", true)
}

// VisibleSections 过滤隐藏段落并按展示顺序排序。
func VisibleSections(tx *gorm.DB) *gorm.DB {
	return tx.Where("active = ?", true).Order("ordering ASC, id ASC")
}

// PublicFiles 仅返回需要在页脚展示链接的文件。
func PublicFiles(tx *gorm.DB) *gorm.DB {
	return tx.Where("show_link = ?", true).Order("slug ASC")
}
