package runnable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// RequirementMust 是创建/替换策略时的默认要求级别
const RequirementMust = "must"

// Policies 构造策略命令。
type Policies struct {
	r *Runnable
}

// Policy 返回策略命令构造器。
func (r *Runnable) Policy() Policies {
	return Policies{r: r}
}

// PolicyOptions 描述对某个资源设置策略。
// Value 为 nil 时不写入 value 字段（例如只修改 requirement）。
type PolicyOptions struct {
	ResourceID  string
	Type        string
	Value       any
	Requirement string
	Settings    map[string]any
}

func (ps Policies) Create(ctx context.Context, opts PolicyOptions) error {
	return ps.set(ctx, "create", opts)
}

func (ps Policies) Put(ctx context.Context, opts PolicyOptions) error {
	return ps.set(ctx, "put", opts)
}

// Update 只修改传入的字段，不补默认 requirement。
func (ps Policies) Update(ctx context.Context, opts PolicyOptions) error {
	return ps.set(ctx, "update", opts)
}

// Delete 删除资源上的某个策略。
func (ps Policies) Delete(ctx context.Context, resourceID, policyType string) error {
	id := ps.r.orMeta(resourceID, MetaResourceID)
	meta := map[string]any{MetaResourceID: id, "type": policyType}

	msg := fmt.Sprintf("Delete policy %s for resource: %s.", policyType, id)
	return ps.r.logCommand(ctx, msg, nil, domain.NewCommand(domain.CommandPolicyDelete, meta, nil))
}

func (ps Policies) set(ctx context.Context, op string, opts PolicyOptions) error {
	id := ps.r.orMeta(opts.ResourceID, MetaResourceID)
	requirement := opts.Requirement
	if requirement == "" && op != "update" {
		requirement = RequirementMust
	}

	payload := map[string]any{}
	if opts.Value != nil {
		payload["value"] = opts.Value
	}
	if requirement != "" {
		payload["requirement"] = requirement
	}
	for k, v := range opts.Settings {
		if _, ok := payload[k]; !ok {
			payload[k] = v
		}
	}
	meta := map[string]any{MetaResourceID: id, "type": opts.Type}

	value, err := json.Marshal(opts.Value)
	if err != nil {
		return fmt.Errorf("marshal policy value: %w", err)
	}
	msg := fmt.Sprintf("%s policy %s for resource %s as %s: %s.", capitalize(op), opts.Type, id, requirement, value)
	return ps.r.logCommand(ctx, msg, payload, domain.NewCommand("policy_"+op, meta, payload))
}
