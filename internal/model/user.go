package model

import "time"

// User はサービス利用ユーザーを表す。
// 認証は外部で行われ、本システムは通知先の参照にのみ使用する。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
