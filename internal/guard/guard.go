// Package guard はページ表示の可否を認証状態から判定する。
// 判定は表示のたびに行い、状態は持たない。
package guard

// Status は認証状態。
type Status int

// 認証状態
const (
	// StatusLoading は認証状態をまだ確定できていないことを表す。
	StatusLoading Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// AuthState は判定に使う認証状態。AdminはStatusAuthenticatedの場合だけ意味を持つ。
type AuthState struct {
	Status Status
	Admin  bool
}

// Action は判定結果の種類。
type Action int

// 判定結果
const (
	ActionRender Action = iota
	ActionPlaceholder
	ActionRedirect
)

// リダイレクト先
const (
	LoginPath = "/login"
	HomePath  = "/"
)

// Decision は判定結果。ActionRedirectの場合はLocationに遷移先が入る。
type Decision struct {
	Action   Action
	Location string
}

// Evaluate は認証が必要なページの表示可否を判定する。
func Evaluate(state AuthState, requireAdmin bool) Decision {
	switch state.Status {
	case StatusAuthenticated:
		if requireAdmin && !state.Admin {
			return Decision{Action: ActionRedirect, Location: HomePath}
		}
		return Decision{Action: ActionRender}
	case StatusUnauthenticated:
		return Decision{Action: ActionRedirect, Location: LoginPath}
	default:
		return Decision{Action: ActionPlaceholder}
	}
}

// EvaluateGuest はログイン・新規登録ページの表示可否を判定する。
// ログイン済みの場合はホームへ遷移させる。
func EvaluateGuest(state AuthState) Decision {
	switch state.Status {
	case StatusAuthenticated:
		return Decision{Action: ActionRedirect, Location: HomePath}
	case StatusUnauthenticated:
		return Decision{Action: ActionRender}
	default:
		return Decision{Action: ActionPlaceholder}
	}
}
