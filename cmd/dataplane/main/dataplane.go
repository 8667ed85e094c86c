/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"os"
	"time"

	"github.com/urfave/cli"

	_ "github.com/aklivity/zilla-sub038/pkg/binding"
)

// Version is stamped at build time.
var Version = "0.1.0"

func main() {
	app := newApp()
	// ignore error so we don't exit non-zero after printing usage
	_ = app.Run(os.Args)
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dataplane"
	app.Version = Version
	app.Compiled = time.Now()
	app.Usage = "multi-protocol gateway dataplane engine"

	//commands
	app.Commands = []cli.Command{
		cmdStart,
		cmdDump,
	}

	//action
	app.Action = func(c *cli.Context) error {
		cli.ShowAppHelp(c)
		return nil
	}
	return app
}
