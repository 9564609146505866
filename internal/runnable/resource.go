package runnable

import (
	"context"
	"fmt"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// Resources 构造资源命令。ID 为空时回退到调用元数据中的 resourceId。
type Resources struct {
	r *Runnable
}

// Resource 返回资源命令构造器。
func (r *Runnable) Resource() Resources {
	return Resources{r: r}
}

// ResourceCreate 描述在父资源下创建资源。
type ResourceCreate struct {
	ParentID string
	Type     string
	Data     any
}

// ResourceUpsert 描述按 aka 创建或更新资源。
type ResourceUpsert struct {
	ParentID string
	Type     string
	Akas     []string
	Data     any
}

func (rs Resources) Create(ctx context.Context, opts ResourceCreate) error {
	meta := map[string]any{
		"parentId": rs.r.orMeta(opts.ParentID, MetaResourceID),
		"type":     opts.Type,
	}
	msg := fmt.Sprintf("Create resource %s with parent: %s.", opts.Type, meta["parentId"])
	return rs.r.logCommand(ctx, msg, opts.Data, domain.NewCommand(domain.CommandResourceCreate, meta, opts.Data))
}

func (rs Resources) Upsert(ctx context.Context, opts ResourceUpsert) error {
	meta := map[string]any{
		"parentId": rs.r.orMeta(opts.ParentID, MetaResourceID),
		"type":     opts.Type,
		"akas":     opts.Akas,
	}
	msg := fmt.Sprintf("Upsert resource %s with parent: %s.", opts.Type, meta["parentId"])
	return rs.r.logCommand(ctx, msg, opts.Data, domain.NewCommand(domain.CommandResourceUpsert, meta, opts.Data))
}

// Put 整体替换资源数据。
func (rs Resources) Put(ctx context.Context, resourceID string, data any) error {
	return rs.mutate(ctx, "put", resourceID, data)
}

// Update 按变更合并资源数据。
func (rs Resources) Update(ctx context.Context, resourceID string, changes any) error {
	return rs.mutate(ctx, "update", resourceID, changes)
}

// Delete 删除资源，此后本次调用中对该资源的修改都会被拒绝。
func (rs Resources) Delete(ctx context.Context, resourceID string) error {
	return rs.mutate(ctx, "delete", resourceID, nil)
}

// Notify 生成 resource_notify 命令。
func (rs Resources) Notify(ctx context.Context, opts NotifyOptions) error {
	meta := map[string]any{MetaResourceID: rs.r.orMeta(opts.TargetID, MetaResourceID)}
	return rs.r.Command(ctx, domain.NewCommand(domain.CommandResourceNotify, meta, notifyPayload(opts)))
}

func (rs Resources) mutate(ctx context.Context, op, resourceID string, data any) error {
	id := rs.r.orMeta(resourceID, MetaResourceID)
	cmd := domain.NewCommand("resource_"+op, map[string]any{MetaResourceID: id}, data)

	msg := fmt.Sprintf("%s resource: %s.", capitalize(op), id)
	return rs.r.logCommand(ctx, msg, data, cmd)
}
