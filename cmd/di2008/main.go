// Command di2008 - утилита для работы с прибором DATAQ DI-2008.
package main

import "github.com/momentics/godi2008/cmd/di2008/cmd"

func main() {
	cmd.Execute()
}
