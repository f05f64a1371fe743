package report

import (
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/model"
)

// WriteAudit writes the run's audit records (suppressed duplicates and
// unmatched listings with reasons) to a CSV file at path.
func WriteAudit(path string, records []model.AuditRecord) error {
	data, err := csvutil.Marshal(records)
	if err != nil {
		return eris.Wrap(err, "report: marshal audit records")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	zap.L().Info("audit file written",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return nil
}
