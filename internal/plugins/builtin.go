// Package plugins 内置插件表
package plugins

import (
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/plugins/bluetooth"
	"wisefido-vitals/internal/plugins/fitbit"
	"wisefido-vitals/internal/plugins/mock"
	"wisefido-vitals/internal/plugins/omron"
)

// Deps 内置插件的外部依赖
type Deps struct {
	// BLE 网关的 MQTT 订阅者，可为 nil
	MQTT bluetooth.Subscriber
}

// Builtin 插件 id → 工厂。新增插件需要在这里登记。
func Builtin(deps Deps) map[string]plugin.Factory {
	return map[string]plugin.Factory{
		mock.IDBloodPressure: mock.NewBloodPressure,
		mock.IDGlucose:       mock.NewGlucose,
		fitbit.ID:            fitbit.New,
		omron.ID:             omron.New,
		bluetooth.ID:         bluetooth.NewFactory(deps.MQTT),
	}
}

// IDs 全部内置插件 id
func IDs() []string {
	return []string{mock.IDBloodPressure, mock.IDGlucose, fitbit.ID, omron.ID, bluetooth.ID}
}
