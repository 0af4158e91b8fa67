//
// This package contains helper functions that are common to the
// unit tests for the dexread, apkread and apkdump packages: a visitor
// class for capturing callbacks, a whitespace squeeze helper routine,
// and a builder that assembles small DEX files from smali text.
//
package dexapktest

import (
	"fmt"
	"regexp"

	"github.com/thanm/go-edit-a-dex/key"
)

// A visitor to pass to ReadDEX/ReadAPK during unit testing. It
// captures any callbacks into a slice of strings, which can then be
// examined/verified.
//
type CaptureDexApkVisitOperations struct {
	Result []string
}

func (c *CaptureDexApkVisitOperations) VisitAPK(apk string) {
	c.Result = append(c.Result, fmt.Sprintf("APK %s", apk))
}

func (c *CaptureDexApkVisitOperations) VisitDEX(dexname string, sha1signature [20]byte) {
	c.Result = append(c.Result, fmt.Sprintf(" DEX %s sha1 %x", dexname, sha1signature))
}

func (c *CaptureDexApkVisitOperations) VisitClass(class key.TypeKey, nmethods uint32) {
	c.Result = append(c.Result, fmt.Sprintf("  class %s methods: %d",
		class.SourceName(), nmethods))
}

func (c *CaptureDexApkVisitOperations) VisitMethod(method key.MethodKey, methodIdx uint64, codeOffset uint64) {
	c.Result = append(c.Result, fmt.Sprintf("   method id %d name '%s' code offset %d", methodIdx, method.Name, codeOffset))
}

func (c *CaptureDexApkVisitOperations) Verbose(vlevel int, s string, a ...interface{}) {
}

var whiteRE = regexp.MustCompile(`[ \n\t]+`)

// Squeeze repeated whitespace and convert tabs/newlines to spaces.
func SqueezeWhite(s string) string {
	return whiteRE.ReplaceAllLiteralString(s, " ")
}
