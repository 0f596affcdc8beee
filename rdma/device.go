package rdma

import "github.com/rfaas/executor-manager/internal/verbs"

func deviceContextFromID(id *verbs.CMID) (*verbs.DeviceContext, error) {
	return id.DeviceContext()
}
