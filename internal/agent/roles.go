package agent

import (
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/llm"
	"github.com/xela07ax/erpai-decision-prototype/internal/trace"
	"go.uber.org/zap"
)

// Роли производственного контура.
const (
	RoleProductionPlanner   = "production_planner"
	RoleStockController     = "stock_controller"
	RoleOrderManager        = "order_manager"
	RoleQualityAuditor      = "quality_auditor"
	RoleWarehouseSupervisor = "warehouse_supervisor"
)

// BuildRegistry собирает штатный набор агентов завода. Планировщик
// производства перед собственным решением консультируется со складом и
// заказами — их выводы попадают к нему в контекст.
func BuildRegistry(backend llm.Backend, tracker *trace.Tracker, quota QuotaGuard, defaultModel string, logger *zap.Logger) *Registry {
	reg := NewRegistry()

	mk := func(cfg Config) {
		if cfg.Model == "" {
			cfg.Model = defaultModel
		}
		reg.Register(New(cfg, backend, tracker, quota, reg, logger))
	}

	mk(Config{
		Role: RoleStockController,
		Name: "Stock Controller",
		Responsibilities: []string{
			"Track raw material and component stock levels across warehouse zones",
			"Flag shortages against BOM requirements",
			"Propose reorder quantities and safety stock adjustments",
		},
	})

	mk(Config{
		Role: RoleOrderManager,
		Name: "Order Manager",
		Responsibilities: []string{
			"Prioritize open customer orders by due date and margin",
			"Detect conflicts between order commitments and capacity",
		},
	})

	mk(Config{
		Role: RoleProductionPlanner,
		Name: "Production Planner",
		Responsibilities: []string{
			"Build and adjust production plans against capacity and stock",
			"Resolve scheduling conflicts between orders",
			"Escalate plan changes that affect committed deliveries",
		},
		Planner: func(req domain.AgentRequest) Plan {
			return Plan{
				Prompt: req.Prompt,
				Consultations: []Consultation{
					{Role: RoleStockController, Prompt: "Check stock coverage for: " + req.Prompt},
					{Role: RoleOrderManager, Prompt: "List order commitments affected by: " + req.Prompt},
				},
			}
		},
	})

	mk(Config{
		Role: RoleQualityAuditor,
		Name: "Quality Auditor",
		Responsibilities: []string{
			"Review quality incidents and nonconformance reports",
			"Recommend batch holds and rework decisions",
		},
	})

	mk(Config{
		Role: RoleWarehouseSupervisor,
		Name: "Warehouse Supervisor",
		Responsibilities: []string{
			"Assign putaway and picking across warehouse zones",
			"Balance zone utilization and block unsafe allocations",
		},
	})

	return reg
}
