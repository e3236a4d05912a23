// Package metrics 汇总个人主页模块的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesAutoCreated 统计自动创建策略新建的主页数量。
	PagesAutoCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personpages",
		Name:      "pages_autocreated_total",
		Help:      "Personal pages created by the auto-create policy",
	}, []string{"policy"})

	// EditSubmissions 按结果统计主页编辑提交。
	EditSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personpages",
		Name:      "edit_submissions_total",
		Help:      "Personal page edit submissions by outcome",
	}, []string{"outcome"})

	// SlugRetries 统计生成 slug 时因冲突而重试的次数。
	SlugRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "personpages",
		Name:      "slug_retries_total",
		Help:      "Slug candidates rejected because they were already taken",
	})

	// MugshotsUpdated 统计写入目录条目的头像数量。
	MugshotsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "personpages",
		Name:      "mugshots_updated_total",
		Help:      "Directory entry mugshots replaced from a personal page photo",
	})
)

// 编辑提交的结果标签。
const (
	OutcomeSaved     = "saved"
	OutcomeInvalid   = "invalid"
	OutcomeForbidden = "forbidden"
	OutcomeError     = "error"
)
