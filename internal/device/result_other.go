//go:build !unix

package device

// Linux errno values, so result codes match across platforms.
var (
	codeFault = -14
	codeBusy  = -16
	codeInval = -22
	codeBadF  = -9
)
