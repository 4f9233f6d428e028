package config

const moduleModulePath = "cue.mod/module.cue"
const moduleOverlayPath = "cue.mod/pkg/nodebus.dev/nodebus/module/module.cue"

const moduleModuleContent = `module: "nodebus.dev/nodebus"
language: {
    version: "v0.8.0"
}
`

const moduleOverlayContent = `package module

#Module: {
    config: #Config
    ...
}

#Config: {
    name?: string
    description?: string
    transport?: #Transport
    logging?: _
    telemetry?: _
    graph_view?: _
    hot_reload?: bool
    modules?: [...]
    profiles?: [...#Profile]
    nodes?: [...#Node]
    ...
}

#Transport: {
    provider?: string
    domain?: int & >=0
    leave_defaults?: bool
    ...
}

#Profile: {
    id: string
    history?: "system_default" | "keep_last" | "keep_all"
    depth?: int & >=0
    reliability?: "system_default" | "reliable" | "best_effort"
    durability?: "system_default" | "volatile" | "transient_local"
    deadline?: string
    lifespan?: string
    liveliness?: "system_default" | "automatic" | "manual_by_topic"
    lease_duration?: string
    avoid_conventions?: bool
    leave_defaults?: bool
    ...
}

#Node: {
    name: string
    namespace: string
    publishers?: [...#Publisher]
    subscriptions?: [...#Subscription]
    services?: [...#Service]
    clients?: [...#Client]
    ...
}

#Publisher: {
    id: string
    topic: string
    type: string
    profile?: string
    interval?: string
    keyed?: bool
    generator?: _
    disable?: bool
    ...
}

#Subscription: {
    id: string
    topic: string
    type: string
    profile?: string
    ignore_local?: bool
    disable?: bool
    ...
}

#Service: {
    id: string
    service: string
    type: string
    profile?: string
    expression?: string
    disable?: bool
    ...
}

#Client: {
    id: string
    service: string
    type: string
    profile?: string
    interval?: string
    request?: _
    disable?: bool
    ...
}
`

func init() {
	RegisterDefaultOverlay(func() error {
		if err := RegisterOverlayString(moduleModulePath, moduleModuleContent); err != nil {
			return err
		}
		return RegisterOverlayString(moduleOverlayPath, moduleOverlayContent)
	})
}
