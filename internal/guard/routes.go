package guard

// ルート
const (
	RootPath                 = "/"
	AuthCallbackPath         = "/auth-callback"
	BabyListManagementPath   = "/baby-list-management"
	MakeNewProfilePath       = "/make-new-profile"
	SearchProfileHistoryPath = "/search-profile-history"
	SystemManagementPath     = "/system-management"
)

// routeRequirements は画面ルートごとのアクセス要件。adminが必要なのは1つだけ。
var routeRequirements = map[string]Requirement{
	LoginPath:                Public,
	AuthCallbackPath:         Public,
	DashboardPath:            Authenticated,
	BabyListManagementPath:   Authenticated,
	MakeNewProfilePath:       Authenticated,
	SearchProfileHistoryPath: Authenticated,
	SystemManagementPath:     AdminOnly,
}

// RequirementFor は画面ルートのアクセス要件を返す。
// 未登録のルートはログイン必須として扱う。
func RequirementFor(path string) Requirement {
	if req, ok := routeRequirements[path]; ok {
		return req
	}
	return Authenticated
}
