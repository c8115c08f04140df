package main

func main() {
	InitFlag()
	// 信号监听需先于其他模块, 以便注册清理函数
	InitSafeExit()
	InitConf(configPath)
	InitLog()
	log.Infof("%s %s, source %s(%s) -> %s", conf.App.Title, conf.App.Version,
		conf.Source.Name, conf.Source.Type, conf.Output.Format)
	InitBreakPoint()
	InitTask()
}
