// Package enums provides type-safe enumeration types used across jobtrack.
//
// The enum types are defined as unexported integer types in this file and the go:generate
// directives invoke go-pkgz/enum to create the exported struct types with String, Parse,
// text and sql marshaling in the *_enum.go files.
//
// To regenerate the enum types after modifications:
//
//	go generate ./app/enums
//
// Note: the unexported type definitions below are only used by the generator.
// All actual code should use the generated exported types.
package enums

//go:generate go run github.com/go-pkgz/enum@latest -type status -lower
//go:generate go run github.com/go-pkgz/enum@latest -type theme -lower
//go:generate go run github.com/go-pkgz/enum@latest -type storeType -lower

// status represents the workflow status of a tracked job.
// The order matches the order statuses are shown in the UI.
type status int

const (
	statusSaved status = iota
	statusApplied
	statusInterview
	statusOffer
	statusRejected
)

// theme represents UI themes.
type theme int

const (
	themeLight theme = iota
	themeDark
)

// storeType represents the storage backend kind for tracker data.
type storeType int

const (
	storeTypeMemory storeType = iota
	storeTypeFile
	storeTypeSqlite
	storeTypeRedis
)
