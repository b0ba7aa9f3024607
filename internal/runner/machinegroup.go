package runner

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/inductiva/task-runner/internal/apiclient"
)

// MachineGroupAPI is the lookup/create surface ResolveMachineGroup needs.
type MachineGroupAPI interface {
	GetStartedMachineGroupIDByName(ctx context.Context, name string) (string, error)
	CreateLocalMachineGroup(ctx context.Context, name string) (string, error)
}

// ResolveMachineGroup implements the machine-group resolution original
// task-runner performs before registering (§9 SUPPLEMENTED FEATURES item 2):
// use the id if given outright; else look up a started group by name;
// else, only under localMode, create one.
func ResolveMachineGroup(ctx context.Context, api MachineGroupAPI, id, name string, localMode bool) (string, error) {
	if id != "" {
		log.WithField("machine_group_id", id).Info("using specified machine group")
		return id, nil
	}

	if name != "" {
		found, err := api.GetStartedMachineGroupIDByName(ctx, name)
		if err != nil {
			return "", errors.Wrap(err, "looking up machine group by name")
		}
		if found != "" {
			log.WithField("machine_group_name", name).Info("found existing started machine group")
			return found, nil
		}
	}

	if !localMode {
		return "", errors.New("no machine group specified and not running in local mode")
	}

	log.Info("no machine group specified; creating a new local machine group")
	return api.CreateLocalMachineGroup(ctx, name)
}

// BuildRegisterInfo assembles the registration payload with this host's
// identity; CPU and memory counts are logged, not sent. Grounded on original_source's
// register_executer.py:_get_executer_info.
func BuildRegisterInfo(hostName, hostID, machineGroupID, machineGroupName string, localMode bool) (apiclient.RegisterTaskRunnerInfo, error) {
	if hostName == "" && localMode {
		hostName = "local-mode-name"
	}
	if hostID == "" && localMode {
		hostID = "local-mode-id"
	}
	if hostName == "" || hostID == "" {
		return apiclient.RegisterTaskRunnerInfo{}, errors.New("HOST_NAME and HOST_ID must be set")
	}

	logResourceCounts()

	return apiclient.RegisterTaskRunnerInfo{
		HostName:         hostName,
		HostID:           hostID,
		MachineGroupID:   machineGroupID,
		MachineGroupName: machineGroupName,
		LocalMode:        localMode,
	}, nil
}

func logResourceCounts() {
	logical, err := cpu.Counts(true)
	if err != nil {
		log.WithError(err).Warn("failed to read logical cpu count")
		logical = 0
	}
	physical, err := cpu.Counts(false)
	if err != nil {
		log.WithError(err).Warn("failed to read physical cpu count")
		physical = 0
	}
	vm, err := mem.VirtualMemory()
	totalMemory := uint64(0)
	if err == nil {
		totalMemory = vm.Total
	}

	log.WithFields(logrus.Fields{
		"cpu_count_logical":  logical,
		"cpu_count_physical": physical,
		"memory_bytes":       totalMemory,
	}).Info("executer resources")
}
