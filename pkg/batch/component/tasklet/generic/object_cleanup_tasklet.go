package generic

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DeletedCountKey is the ExecutionContext key holding the number of objects removed.
const DeletedCountKey = "cleanup.deleted"

// ObjectCleanupTasklet deletes every object under a prefix, typically the output
// of a previous run before a job writes it again.
type ObjectCleanupTasklet struct {
	conn   storage.Executor
	bucket string
	prefix string
}

// NewObjectCleanupTasklet creates a tasklet removing bucket/prefix* from conn.
func NewObjectCleanupTasklet(conn storage.Executor, bucket, prefix string) *ObjectCleanupTasklet {
	return &ObjectCleanupTasklet{conn: conn, bucket: bucket, prefix: prefix}
}

func (t *ObjectCleanupTasklet) Execute(ctx context.Context, _ *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error) {
	var names []string
	if err := t.conn.ListObjects(ctx, t.bucket, t.prefix, func(name string) error {
		names = append(names, name)
		return nil
	}); err != nil {
		return repeat.Finished, exception.NewBatchError(exception.KindItemStream, module, "failed to list objects under '"+t.prefix+"'", err)
	}

	var result *multierror.Error
	deleted := 0
	for _, name := range names {
		if err := t.conn.DeleteObject(ctx, t.bucket, name); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		deleted++
	}
	ec.Put(DeletedCountKey, deleted)
	if err := result.ErrorOrNil(); err != nil {
		return repeat.Finished, exception.NewBatchErrorf(exception.KindItemStream, module, "failed to delete %d of %d objects: %v", len(names)-deleted, len(names), err)
	}
	logger.Infof("ObjectCleanupTasklet: deleted %d objects under '%s'.", deleted, t.prefix)
	return repeat.Finished, nil
}

var _ port.Tasklet = (*ObjectCleanupTasklet)(nil)
