package turns

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-live/core/turns"

var logger = otelslog.NewLogger(scopeName)
