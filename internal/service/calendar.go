package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/personpages/internal/db"
)

// CalendarFeed 生成人员的 iCalendar 内容，由日程应用提供。
type CalendarFeed interface {
	Feed(person *db.Person) ([]byte, error)
}

// EmptyCalendarFeed 在没有日程应用时输出不含事件的日历。
type EmptyCalendarFeed struct {
	ProductID string
	Now       func() time.Time
}

// Feed 实现 CalendarFeed。
func (f EmptyCalendarFeed) Feed(person *db.Person) ([]byte, error) {
	if person == nil {
		return nil, ErrPersonNotFound
	}
	prodID := f.ProductID
	if prodID == "" {
		prodID = "-//personpages//calendar//EN"
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"X-WR-CALNAME:" + escapeICalText(person.String()),
		"X-WR-TIMEZONE:UTC",
		"X-PUBLISHED-TTL:PT1H",
		fmt.Sprintf("X-PERSONPAGES-GENERATED:%s", now().UTC().Format("20060102T150405Z")),
		"END:VCALENDAR",
	}
	// RFC 5545 要求 CRLF 换行
	return []byte(strings.Join(lines, "\r\n") + "\r\n"), nil
}

func escapeICalText(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)
	return replacer.Replace(value)
}
