package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CourseStatus はコースの公開状態を表す。
type CourseStatus string

const (
	// CourseStatusDraft は下書き状態。
	CourseStatusDraft CourseStatus = "Draft"
	// CourseStatusPublished は公開状態。受講登録はこの状態のコースのみ受け付ける。
	CourseStatusPublished CourseStatus = "Published"
	// CourseStatusArchived はアーカイブ状態。
	CourseStatusArchived CourseStatus = "Archived"
)

// LessonStatus はレッスンの公開状態を表す。
type LessonStatus string

const (
	// LessonStatusPublished は公開状態。完了判定の分母に数える。
	LessonStatusPublished LessonStatus = "Published"
	// LessonStatusDraft は下書き状態。
	LessonStatusDraft LessonStatus = "Draft"
)

// Course はコースを表す。カタログとして外部で管理され、本システムからは参照のみ行う。
type Course struct {
	ID            string
	CategoryID    *string
	Title         string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	Status        CourseStatus
	LessonCount   int // 公開レッスン数（導出値）
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectivePrice は受講登録時に適用する価格を返す。
// 割引価格が設定されていればそれを優先する。
func (c *Course) EffectivePrice() decimal.Decimal {
	if c.DiscountPrice != nil {
		return *c.DiscountPrice
	}
	return c.Price
}

// IsEnrollable はコースが受講登録可能かを返す。
func (c *Course) IsEnrollable() bool {
	return c.Status == CourseStatusPublished
}

// Lesson はコース内のレッスンを表す。
type Lesson struct {
	ID          string
	CourseID    string
	Title       string
	OrderNumber int
	Duration    int // 秒
	Status      LessonStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category はコースのカテゴリを表す。
type Category struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}
