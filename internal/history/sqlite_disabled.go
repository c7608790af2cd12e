//go:build !sqlite

package history

import (
	"github.com/cockroachdb/errors"

	logx "schedkit/pkg/logx"
)

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, errors.New("sqlite history not built: build with -tags sqlite")
}
