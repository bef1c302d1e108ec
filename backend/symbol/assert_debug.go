//go:build tauphi_debug

package symbol

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

func assertf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
	panic(fmt.Sprintf(format, args...))
}
