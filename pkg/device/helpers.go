package device

import (
	"time"

	"github.com/cuemby/devicehub/pkg/name"
)

func zeroTime() time.Time { return time.Time{} }

func propNameOf(s string) name.Name { return name.Parse(s) }
