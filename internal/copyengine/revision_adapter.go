package copyengine

import "github.com/copycore/vcscopy/internal/copyengine/revision"

// Local aliases so the rest of the package can spell revision kinds without
// qualifying the revision subpackage on every use.
const (
	revisionUnspecified = revision.Unspecified
	revisionNumber      = revision.Number
	revisionBase        = revision.Base
	revisionCommitted   = revision.Committed
	revisionPrevious    = revision.Previous
	revisionWorking     = revision.Working
	revisionHead        = revision.Head
)

func headRevision() Revision    { return revision.HeadRev }
func workingRevision() Revision { return revision.WorkingRev }
