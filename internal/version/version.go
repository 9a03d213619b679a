package version

// Tag is the build version, set with
// -ldflags "-X github.com/Matteomic94/ElementMedica-sub000/internal/version.Tag=v1.2.3".
var Tag = ""

// String returns Tag, or "dev" for unstamped builds.
func String() string {
	if Tag == "" {
		return "dev"
	}
	return Tag
}
