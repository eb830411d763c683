package forest

import (
	"forest/internal/logging"
	"forest/internal/types"
)

// BranchProgress summarizes one strategic branch.
type BranchProgress struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

// Status is a read-only summary of a tree.
type Status struct {
	ProjectID      string           `json:"projectId"`
	PathName       string           `json:"pathName"`
	Goal           string           `json:"goal"`
	Complexity     int              `json:"complexity"`
	DomainType     string           `json:"domainType,omitempty"`
	TotalBranches  int              `json:"totalBranches"`
	TotalTasks     int              `json:"totalTasks"`
	CompletedTasks int              `json:"completedTasks"`
	EligibleTasks  int              `json:"eligibleTasks"`
	Branches       []BranchProgress `json:"branches"`
}

// Status reports progress for the tree without mutating anything.
func (o *Orchestrator) Status(projectID, pathName string) (*Status, error) {
	timer := logging.StartTimer(logging.CategoryForest, "Status")
	defer timer.Stop()

	tree, err := o.manager.LoadTree(projectID, normalizePath(pathName))
	if err != nil {
		return nil, err
	}
	return statusOf(tree), nil
}

func statusOf(tree *types.Tree) *Status {
	tree.RefreshMetadata()
	st := &Status{
		ProjectID:      tree.ProjectID,
		PathName:       tree.PathName,
		Goal:           tree.Goal,
		Complexity:     tree.Complexity,
		TotalBranches:  tree.HierarchyMetadata.TotalBranches,
		TotalTasks:     tree.HierarchyMetadata.TotalTasks,
		CompletedTasks: tree.HierarchyMetadata.CompletedTasks,
		EligibleTasks:  len(tree.EligibleTasks()),
	}
	if tree.GoalContext != nil {
		st.DomainType = tree.GoalContext.DomainType
	}

	byBranch := make(map[string]*BranchProgress, len(tree.StrategicBranches))
	for _, b := range tree.StrategicBranches {
		bp := &BranchProgress{Name: b.Name}
		byBranch[b.Name] = bp
		st.Branches = append(st.Branches, BranchProgress{Name: b.Name})
	}
	for _, task := range tree.FrontierNodes {
		bp, ok := byBranch[task.Branch]
		if !ok {
			continue
		}
		bp.Total++
		if task.Completed {
			bp.Completed++
		}
	}
	for i := range st.Branches {
		if bp, ok := byBranch[st.Branches[i].Name]; ok {
			st.Branches[i] = *bp
		}
	}
	return st
}
