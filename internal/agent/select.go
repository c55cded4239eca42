package agent

// selectBundle 从归组结果中挑出提案数量严格最多的一组。
// 按配置里策略声明的顺序遍历，数量相同的组取先声明者，保证结果稳定。
// 所有组都为空时返回 false。
func (e *Engine) selectBundle(bundles map[string]Bundle) (Bundle, bool) {
	var best Bundle
	for _, policy := range e.cfg.Operations {
		bundle, ok := bundles[policy.Name]
		if !ok {
			continue
		}
		if len(bundle.Entries) > len(best.Entries) {
			best = bundle
		}
	}
	if len(best.Entries) == 0 {
		return Bundle{}, false
	}
	return best, true
}
