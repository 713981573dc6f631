package build

var (
	// Release defines the set of constants to use during build. "standard"
	// is the default. Package-level build.Select vars are chosen when their
	// package initializes, so setting Release from a test's init does not
	// change them; test files assign the test-scale timing values directly.
	Release = "standard"

	// DEBUG enables sanity-check panics. It should be set for testing and
	// dev builds.
	DEBUG = false
)
