package apkdump

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/thanm/go-edit-a-dex/key"
)

//
// This implementation of the DexApkVisitor interface dumps
// out information about the APK/DEX contents to Out (stdout when
// nil). Verbose trace goes to Log, when set, at info level.
//
type DexApkDumper struct {
	Vlevel int
	Out    io.Writer
	Log    *zap.SugaredLogger
}

func (d *DexApkDumper) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

func (d *DexApkDumper) VisitAPK(apk string) {
	fmt.Fprintf(d.out(), "APK %s\n", apk)
}

func (d *DexApkDumper) VisitDEX(dexname string, sha1signature [20]byte) {
	fmt.Fprintf(d.out(), " DEX %s sha1 %x\n", dexname, sha1signature)
}

func (d *DexApkDumper) VisitClass(class key.TypeKey, nmethods uint32) {
	fmt.Fprintf(d.out(), "  class %s methods: %d\n", class.SourceName(), nmethods)
}

func (d *DexApkDumper) VisitMethod(method key.MethodKey, methodIdx uint64, codeOffset uint64) {
	fmt.Fprintf(d.out(), "   method id %d name '%s' code offset %d\n",
		methodIdx, method.Name, codeOffset)
}

func (d *DexApkDumper) Verbose(vlevel int, s string, a ...interface{}) {
	if d.Log != nil && d.Vlevel >= vlevel {
		d.Log.With("vlevel", vlevel).Infof(s, a...)
	}
}
