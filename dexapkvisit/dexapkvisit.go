package dexapkvisit

import "github.com/thanm/go-edit-a-dex/key"

//
// Interface for visiting interesting elements within an Android DEX
// file. Classes and methods are named by their keys, so a visitor can
// print a source name, a smali descriptor, or look the key up again in
// the file's pool. Visit order is logically top-down, e.g.
//
//        VisitAPK("mumble.apk")
//          VisitDEX("classes1.dex")
//            VisitClass(Lfoo;, 1)
//              VisitMethod(Lfoo;->foomethod1()V, 0, 400)
//            VisitClass(Lbar;, 2)
//              VisitMethod(Lbar;->barmethod1()V, 1, 500)
//          VisitDEX("classes2.dex")
//           ...
//
type DexApkVisitor interface {
	VisitAPK(apk string)
	VisitDEX(dexname string, sha1signature [20]byte)
	VisitClass(class key.TypeKey, nmethods uint32)
	VisitMethod(method key.MethodKey, methodIdx uint64, codeOffset uint64)
	Verbose(vlevel int, s string, a ...interface{})
}
