package model

import "time"

// ProgressStatus はレッスン単位の学習状態を表す。
type ProgressStatus string

const (
	// ProgressStatusNotStarted は未着手。進捗レコード作成時の初期値。
	ProgressStatusNotStarted ProgressStatus = "NotStarted"
	// ProgressStatusInProgress は学習中。
	ProgressStatusInProgress ProgressStatus = "InProgress"
	// ProgressStatusCompleted は完了。
	ProgressStatusCompleted ProgressStatus = "Completed"
)

// ParseProgressStatus は文字列を進捗状態に変換する。未知の値の場合はfalseを返す。
func ParseProgressStatus(s string) (ProgressStatus, bool) {
	switch ProgressStatus(s) {
	case ProgressStatusNotStarted, ProgressStatusInProgress, ProgressStatusCompleted:
		return ProgressStatus(s), true
	default:
		return "", false
	}
}

// Rank は状態の進行順序を返す。状態は後退しない。
func (s ProgressStatus) Rank() int {
	switch s {
	case ProgressStatusInProgress:
		return 1
	case ProgressStatusCompleted:
		return 2
	default:
		return 0
	}
}

// Progress は受講登録ごと・レッスンごとの学習進捗を表す。
// (EnrollmentID, LessonID) の組は一意で、初回アクセス時に遅延作成される。
type Progress struct {
	ID             string
	EnrollmentID   string
	LessonID       string
	Status         ProgressStatus
	StartDate      *time.Time // 初回のInProgress/Completed遷移時に一度だけ設定
	CompletionDate *time.Time // 初回のCompleted遷移時に一度だけ設定
	LastAccessDate *time.Time
	TimeSpent      int // 秒。単調非減少
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProgressUpdate は進捗更新リクエストを表す。nilフィールドは変更しない。
type ProgressUpdate struct {
	Status    *string
	TimeSpent *int
}

// CourseProgressRow はユーザーのコース別進捗集計の1行を表す。
// リポジトリ層で受講登録・コース・レッスン・進捗を結合して取得する。
type CourseProgressRow struct {
	EnrollmentID     string
	CourseID         string
	CourseTitle      string
	Status           EnrollmentStatus
	TotalLessons     int
	CompletedLessons int
	LastAccessed     *time.Time
}
