// bio-knncnv calls copy-number variants from the read depth of a BAM file.
//
// Usage:
//
//	bio-knncnv call [flags] bampath fapath
//	bio-knncnv eval [-simulation] callspath truthpath
//	bio-knncnv depth [flags] bampath fapath outpath
package main

import "github.com/grailbio/knncnv/cmd/bio-knncnv/cmd"

func main() {
	cmd.Run()
}
