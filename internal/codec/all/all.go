// Package all registers every built-in codec
package all

import (
	_ "github.com/wegman-software/vexd/internal/codec/osmxml"
	_ "github.com/wegman-software/vexd/internal/codec/pbf"
	_ "github.com/wegman-software/vexd/internal/codec/text"
	_ "github.com/wegman-software/vexd/internal/codec/vex"
)
